package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	limits := Limits{Warning: 5, Cutoff: 10, Total: 50}

	tests := []struct {
		name       string
		in, out    int
		wantStatus Status
		wantReason CutoffReason
	}{
		{name: "fresh session is active", wantStatus: StatusActive},
		{name: "below warning stays active", in: 10, out: 4, wantStatus: StatusActive},
		{name: "warning threshold", out: 5, wantStatus: StatusWarned},
		{name: "between warning and cutoff", in: 3, out: 9, wantStatus: StatusWarned},
		{name: "cutoff threshold", out: 10, wantStatus: StatusCutOff, wantReason: CutoffOutOfScope},
		{name: "total limit with few off-topic", in: 49, out: 1, wantStatus: StatusCutOff, wantReason: CutoffTotalLimit},
		{name: "total limit wins over cutoff", in: 40, out: 10, wantStatus: StatusCutOff, wantReason: CutoffTotalLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &Session{InScopeCount: tt.in, OutOfScopeCount: tt.out}
			status, reason := s.Status(limits)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Fatalf("expected %s/%q, got %s/%q", tt.wantStatus, tt.wantReason, status, reason)
			}
			if s.TotalTurns() != tt.in+tt.out {
				t.Fatalf("total turns %d does not equal %d", s.TotalTurns(), tt.in+tt.out)
			}
		})
	}
}

func TestSessionResetCounters(t *testing.T) {
	s := NewSession("abc", time.Now())
	s.InScopeCount = 12
	s.OutOfScopeCount = 10
	s.ResetCounters()

	if s.TotalTurns() != 0 {
		t.Fatalf("expected zero turns, got %d", s.TotalTurns())
	}
	if status, _ := s.Status(Limits{Warning: 5, Cutoff: 10, Total: 50}); status != StatusActive {
		t.Fatalf("expected ACTIVE after reset, got %s", status)
	}
}

func TestAppendTurnsKeepsNewest(t *testing.T) {
	s := &Session{}
	for i := 0; i < 6; i++ {
		s.AppendTurns(4, Turn{Role: RoleUser, Content: fmt.Sprintf("q%d", i)})
	}

	if len(s.History) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(s.History))
	}
	if s.History[0].Content != "q2" || s.History[3].Content != "q5" {
		t.Fatalf("unexpected history window: %+v", s.History)
	}
}

func TestCloneDoesNotShareHistory(t *testing.T) {
	s := &Session{History: []Turn{{Role: RoleUser, Content: "hi"}}}
	c := s.Clone()
	c.History[0].Content = "changed"

	if s.History[0].Content != "hi" {
		t.Fatalf("clone mutated original history")
	}
}

func TestRemaining(t *testing.T) {
	s := &Session{InScopeCount: 48, OutOfScopeCount: 5}
	if got := s.Remaining(Limits{Total: 50}); got != 0 {
		t.Fatalf("expected remaining clamped to 0, got %d", got)
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	var err error = &InputTooLongError{Field: "message", Max: 500, Got: 501}
	if !errors.Is(err, ErrInputTooLong) {
		t.Fatalf("expected ErrInputTooLong match")
	}

	cause := errors.New("deadline exceeded")
	err = fmt.Errorf("chat: %w", &DependencyError{Op: "conversation", Err: cause})
	if !errors.Is(err, ErrDependency) || !errors.Is(err, cause) {
		t.Fatalf("expected dependency error to match both sentinel and cause")
	}
}

func TestCallTypeValid(t *testing.T) {
	for _, ct := range CallTypes {
		if !ct.Valid() {
			t.Fatalf("expected %s to be valid", ct)
		}
	}
	if CallType("embedding").Valid() {
		t.Fatalf("unexpected call type accepted")
	}
}
