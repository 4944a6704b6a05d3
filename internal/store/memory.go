package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/google/uuid"
)

// Memory keeps everything in process memory. It is the default for local
// development and tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	requests map[string]*domain.ResetRequest
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*domain.Session),
		requests: make(map[string]*domain.ResetRequest),
	}
}

func (m *Memory) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id].Clone(), nil
}

func (m *Memory) PutSession(_ context.Context, s *domain.Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.sessions[s.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return domain.ErrVersionConflict
	}

	stored := s.Clone()
	stored.Version = expectedVersion + 1
	m.sessions[s.ID] = stored
	return nil
}

func (m *Memory) UpsertPending(_ context.Context, sessionID, email string, now time.Time) (*domain.ResetRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req := m.pendingLocked(sessionID); req != nil {
		req.Email = email
		req.UpdatedAt = now
		c := *req
		return &c, false, nil
	}

	req := &domain.ResetRequest{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Email:     email,
		Status:    domain.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.requests[req.ID] = req
	c := *req
	return &c, true, nil
}

func (m *Memory) GetResetRequest(_ context.Context, id string) (*domain.ResetRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	c := *req
	return &c, nil
}

func (m *Memory) PendingResetRequest(_ context.Context, sessionID string) (*domain.ResetRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req := m.pendingLocked(sessionID)
	if req == nil {
		return nil, nil
	}
	c := *req
	return &c, nil
}

func (m *Memory) pendingLocked(sessionID string) *domain.ResetRequest {
	for _, req := range m.requests {
		if req.SessionID == sessionID && req.Status == domain.RequestPending {
			return req
		}
	}
	return nil
}

func (m *Memory) ListResetRequests(_ context.Context, status domain.RequestStatus) ([]*domain.ResetRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.ResetRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if status != "" && req.Status != status {
			continue
		}
		c := *req
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ResolveResetRequest(_ context.Context, id string, status domain.RequestStatus, at time.Time) (*domain.ResetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrInvalidState
	}

	resolved := at
	req.Status = status
	req.ResolvedAt = &resolved
	req.UpdatedAt = at
	c := *req
	return &c, nil
}

func (m *Memory) Close() error {
	return nil
}
