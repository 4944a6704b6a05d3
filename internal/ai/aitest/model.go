// Package aitest provides a scripted ai.Model for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/domain"
)

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Model answers requests from a queue, or from Respond when set.
// Every request is recorded.
type Model struct {
	Name string

	// Respond, when set, computes the reply for each request instead of the queue.
	Respond func(req ai.Request) Reply

	mu       sync.Mutex
	queue    []Reply
	requests []ai.Request
}

var _ ai.Model = (*Model)(nil)

func (m *Model) Enqueue(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, replies...)
}

func (m *Model) Generate(ctx context.Context, req ai.Request) (*ai.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.Respond
	var reply Reply
	if respond == nil {
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return nil, errors.New("aitest: unexpected model call")
		}
		reply = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if respond != nil {
		reply = respond(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	return &ai.Completion{
		Text:  reply.Text,
		Model: m.DefaultModel(),
		Usage: ai.Usage{InputTokens: len(req.Prompt) / 4, OutputTokens: len(reply.Text) / 4, TotalTokens: len(req.Prompt)/4 + len(reply.Text)/4},
	}, nil
}

func (m *Model) Provider() string {
	return "stub"
}

func (m *Model) DefaultModel() string {
	if m.Name == "" {
		return "stub-model"
	}
	return m.Name
}

// Requests returns a copy of every request seen so far.
func (m *Model) Requests() []ai.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Recorder collects usage events.
type Recorder struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func (r *Recorder) Record(_ context.Context, e domain.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []domain.UsageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UsageEvent, len(r.events))
	copy(out, r.events)
	return out
}
