package reset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/email"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/notify"
	"github.com/EricBell/profile-gpt/internal/store"
	"go.uber.org/zap"
)

// Caller carries the capability check made at the boundary. Only callers
// holding the admin credential may resolve requests.
type Caller struct {
	Admin bool
}

type Manager struct {
	requests  store.ResetRequestStore
	sessions  store.SessionStore
	notifier  notify.Notifier
	reviewURL string
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager wires the request store, the session store approvals reset, and
// the notifier. Pass a notify.Async to keep notification off the request path.
func NewManager(requests store.ResetRequestStore, sessions store.SessionStore, notifier notify.Notifier, reviewURL string, log *zap.Logger) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		requests:  requests,
		sessions:  sessions,
		notifier:  notifier,
		reviewURL: strings.TrimSpace(reviewURL),
		logger:    logger.WithFields(log, zap.String("component", "reset")),
		now:       time.Now,
	}
}

// CreateOrUpdate files a pending request for the session, or refreshes the
// address and timestamp of the one already pending. The admin is notified
// either way; a notification failure never fails the request.
func (m *Manager) CreateOrUpdate(ctx context.Context, sessionID, address string) (*domain.ResetRequest, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if !email.Valid(address) {
		return nil, fmt.Errorf("reset request email %q: %w", address, domain.ErrInvalidState)
	}

	req, created, err := m.requests.UpsertPending(ctx, sessionID, address, m.now())
	if err != nil {
		return nil, fmt.Errorf("save reset request: %w", err)
	}

	m.logger.Info("reset request received",
		zap.String(logger.FieldRequest, req.ID),
		zap.String(logger.FieldSession, sessionID),
		zap.Bool("created", created),
	)

	if err := m.notifier.Notify(ctx, notify.Notification{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Email:     req.Email,
		CreatedAt: req.UpdatedAt,
		Updated:   !created,
		ReviewURL: m.reviewURL,
	}); err != nil {
		m.logger.Warn("notifying admin of reset request", zap.Error(err), zap.String(logger.FieldRequest, req.ID))
	}

	return req, nil
}

// Pending returns the session's pending request, or nil.
func (m *Manager) Pending(ctx context.Context, sessionID string) (*domain.ResetRequest, error) {
	return m.requests.PendingResetRequest(ctx, sessionID)
}

// ListPending returns pending requests oldest first.
func (m *Manager) ListPending(ctx context.Context) ([]*domain.ResetRequest, error) {
	return m.List(ctx, domain.RequestPending)
}

// List returns requests with status oldest first; an empty status lists all.
func (m *Manager) List(ctx context.Context, status domain.RequestStatus) ([]*domain.ResetRequest, error) {
	return m.requests.ListResetRequests(ctx, status)
}

func (m *Manager) Get(ctx context.Context, id string) (*domain.ResetRequest, error) {
	req, err := m.requests.GetResetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("reset request %s: %w", id, domain.ErrNotFound)
	}
	return req, nil
}

// Approve resolves the request and zeroes the owning session's counters.
func (m *Manager) Approve(ctx context.Context, caller Caller, id string) (*domain.Session, error) {
	req, err := m.resolve(ctx, caller, id, domain.RequestApproved)
	if err != nil {
		return nil, err
	}

	sess, err := m.resetSession(ctx, req.SessionID)
	if err != nil {
		m.logger.Error("reset request approved but session reset failed",
			zap.Error(err),
			zap.String(logger.FieldRequest, id),
			zap.String(logger.FieldSession, req.SessionID),
			zap.String("hint", "retry with ResetApproved"),
		)
		return nil, err
	}

	m.logger.Info("session reset", zap.String(logger.FieldRequest, id), zap.String(logger.FieldSession, req.SessionID))
	return sess, nil
}

// ResetSession zeroes a session's counters without a request on file.
func (m *Manager) ResetSession(ctx context.Context, caller Caller, sessionID string) (*domain.Session, error) {
	if !caller.Admin {
		return nil, domain.ErrForbidden
	}

	sess, err := m.resetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session reset by admin", zap.String(logger.FieldSession, sessionID))
	return sess, nil
}

func (m *Manager) resetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := store.UpdateSession(ctx, m.sessions, sessionID, m.now, func(s *domain.Session) error {
		s.ResetCounters()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ResetApproved resets the session of an already approved request. It
// completes an approval whose session reset failed after the request was
// resolved.
func (m *Manager) ResetApproved(ctx context.Context, caller Caller, id string) (*domain.Session, error) {
	if !caller.Admin {
		return nil, domain.ErrForbidden
	}

	req, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestApproved {
		return nil, fmt.Errorf("reset request %s is %s: %w", id, req.Status, domain.ErrInvalidState)
	}

	sess, err := m.resetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("session reset for approved request", zap.String(logger.FieldRequest, id), zap.String(logger.FieldSession, req.SessionID))
	return sess, nil
}

// Deny resolves the request; the session stays cut off.
func (m *Manager) Deny(ctx context.Context, caller Caller, id string) (*domain.ResetRequest, error) {
	return m.resolve(ctx, caller, id, domain.RequestDenied)
}

func (m *Manager) resolve(ctx context.Context, caller Caller, id string, status domain.RequestStatus) (*domain.ResetRequest, error) {
	if !caller.Admin {
		return nil, domain.ErrForbidden
	}

	req, err := m.requests.ResolveResetRequest(ctx, id, status, m.now())
	if err != nil {
		return nil, fmt.Errorf("%s reset request %s: %w", verb(status), id, err)
	}

	m.logger.Info("reset request resolved",
		zap.String(logger.FieldRequest, id),
		zap.String(logger.FieldSession, req.SessionID),
		zap.String("status", string(status)),
	)
	return req, nil
}

func verb(status domain.RequestStatus) string {
	if status == domain.RequestApproved {
		return "approve"
	}
	return "deny"
}
