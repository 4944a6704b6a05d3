package domain

import "time"

// Status is the lifecycle state of a visitor session. It is always derived
// from the counters and never persisted.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusWarned Status = "WARNED"
	StatusCutOff Status = "CUT_OFF"
)

// CutoffReason explains why a session is CUT_OFF.
type CutoffReason string

const (
	CutoffNone       CutoffReason = ""
	CutoffTotalLimit CutoffReason = "session_limit"
	CutoffOutOfScope CutoffReason = "out_of_scope"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Limits are the thresholds the state machine evaluates on every message.
type Limits struct {
	Warning int
	Cutoff  int
	Total   int
}

type Session struct {
	ID              string    `json:"id"`
	InScopeCount    int       `json:"in_scope_count"`
	OutOfScopeCount int       `json:"out_of_scope_count"`
	History         []Turn    `json:"history,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSession returns an ACTIVE session with zero counters.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

func (s *Session) TotalTurns() int {
	return s.InScopeCount + s.OutOfScopeCount
}

// Status evaluates the transition rule: total limit first, then the
// out-of-scope cutoff, then the warning threshold.
func (s *Session) Status(l Limits) (Status, CutoffReason) {
	switch {
	case l.Total > 0 && s.TotalTurns() >= l.Total:
		return StatusCutOff, CutoffTotalLimit
	case l.Cutoff > 0 && s.OutOfScopeCount >= l.Cutoff:
		return StatusCutOff, CutoffOutOfScope
	case l.Warning > 0 && s.OutOfScopeCount >= l.Warning:
		return StatusWarned, CutoffNone
	default:
		return StatusActive, CutoffNone
	}
}

// Remaining reports how many questions are left before the total limit.
func (s *Session) Remaining(l Limits) int {
	left := l.Total - s.TotalTurns()
	if left < 0 {
		return 0
	}
	return left
}

// AppendTurns adds turns to the history and keeps only the newest limit
// entries. A non-positive limit keeps everything.
func (s *Session) AppendTurns(limit int, turns ...Turn) {
	s.History = append(s.History, turns...)
	s.History = TruncateHistory(s.History, limit)
}

// ResetCounters zeroes both counters, which returns the session to ACTIVE.
func (s *Session) ResetCounters() {
	s.InScopeCount = 0
	s.OutOfScopeCount = 0
}

// Clone returns a deep copy so stores never share history slices with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.History != nil {
		c.History = make([]Turn, len(s.History))
		copy(c.History, s.History)
	}
	return &c
}

// TruncateHistory keeps the newest limit turns.
func TruncateHistory(history []Turn, limit int) []Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	out := make([]Turn, limit)
	copy(out, history[len(history)-limit:])
	return out
}
