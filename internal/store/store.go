package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/utils"
)

// SessionStore persists visitor sessions. PutSession is a compare-and-set on
// Version: it fails with domain.ErrVersionConflict when the stored version
// differs from expectedVersion, and stores the session with Version+1.
// expectedVersion 0 creates a new session.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	PutSession(ctx context.Context, s *domain.Session, expectedVersion int64) error
}

// ResetRequestStore persists reset requests and enforces at most one pending
// request per session.
type ResetRequestStore interface {
	// UpsertPending updates the session's pending request or creates one.
	// created reports whether a new request was inserted.
	UpsertPending(ctx context.Context, sessionID, email string, now time.Time) (req *domain.ResetRequest, created bool, err error)
	GetResetRequest(ctx context.Context, id string) (*domain.ResetRequest, error)
	PendingResetRequest(ctx context.Context, sessionID string) (*domain.ResetRequest, error)
	// ListResetRequests returns requests oldest first; an empty status lists all.
	ListResetRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.ResetRequest, error)
	// ResolveResetRequest moves a pending request to status. It fails with
	// domain.ErrNotFound or domain.ErrInvalidState.
	ResolveResetRequest(ctx context.Context, id string, status domain.RequestStatus, at time.Time) (*domain.ResetRequest, error)
}

// Store is implemented by drivers that hold both sessions and reset requests.
type Store interface {
	SessionStore
	ResetRequestStore
	Close() error
}

const (
	maxUpdateAttempts = 8
	backoffBase       = 5 * time.Millisecond
	backoffMax        = 100 * time.Millisecond
)

// UpdateSession applies fn to the freshest copy of the session and writes it
// back, retrying from a new read on version conflicts. A missing session is
// created.
func UpdateSession(ctx context.Context, sessions SessionStore, id string, now func() time.Time, fn func(*domain.Session) error) (*domain.Session, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := sessions.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if current == nil {
			current = domain.NewSession(id, now())
		}

		expected := current.Version
		next := current.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.UpdatedAt = now()

		err = sessions.PutSession(ctx, next, expected)
		if err == nil {
			next.Version = expected + 1
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("save session: %w", err)
		}

		if err := utils.WaitFor(ctx, utils.Backoff(attempt, backoffBase, backoffMax)); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("save session %s: %w", id, domain.ErrVersionConflict)
}
