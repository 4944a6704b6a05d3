package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EricBell/profile-gpt/internal/logger"
	"go.uber.org/zap"
)

// Notification tells the admin about a new or updated reset request.
type Notification struct {
	RequestID string
	SessionID string
	Email     string
	CreatedAt time.Time
	// Updated is set when an existing pending request got a new address.
	Updated bool
	// ReviewURL points the admin at the review page when known.
	ReviewURL string
}

func (n Notification) Subject() string {
	if n.Updated {
		return "Reset request updated: " + n.Email
	}
	return "New reset request: " + n.Email
}

func (n Notification) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "A visitor asked for their session to be reset.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", n.RequestID)
	fmt.Fprintf(&b, "Session: %s\n", n.SessionID)
	fmt.Fprintf(&b, "Email:   %s\n", n.Email)
	fmt.Fprintf(&b, "Time:    %s\n", n.CreatedAt.UTC().Format(time.RFC3339))
	if n.ReviewURL != "" {
		fmt.Fprintf(&b, "\nReview: %s\n", n.ReviewURL)
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops notifications. It is used when no channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

const defaultAsyncTimeout = 15 * time.Second

// Async delivers notifications in the background so the visitor's reply is
// never held up. Failures are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *zap.Logger
	done    func()
}

func NewAsync(next Notifier, timeout time.Duration, log *zap.Logger) *Async {
	if timeout <= 0 {
		timeout = defaultAsyncTimeout
	}
	return &Async{next: next, timeout: timeout, logger: logger.WithFields(log, zap.String("component", "notify"))}
}

// Notify returns immediately. The caller's context only contributes its
// values; cancellation of the request does not abort delivery.
func (a *Async) Notify(ctx context.Context, n Notification) error {
	go func() {
		defer func() {
			if a.done != nil {
				a.done()
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.next.Notify(sendCtx, n); err != nil {
			a.logger.Error("admin notification failed",
				zap.Error(err),
				zap.String(logger.FieldRequest, n.RequestID),
				zap.String(logger.FieldSession, n.SessionID),
			)
			return
		}
		a.logger.Info("admin notified", zap.String(logger.FieldRequest, n.RequestID))
	}()
	return nil
}
