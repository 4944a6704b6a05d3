// Package httpapi serves the chat, job vetting and admin endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/EricBell/profile-gpt/internal/config"
	"github.com/EricBell/profile-gpt/internal/identity"
	"github.com/EricBell/profile-gpt/internal/jobfit"
	"github.com/EricBell/profile-gpt/internal/reset"
	"github.com/EricBell/profile-gpt/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Snapshots interface {
	Snapshot() config.Snapshot
}

type Analyzer interface {
	Analyze(ctx context.Context, sessionID, jobDescription, persona string, maxLength int) (*jobfit.Result, error)
}

// Handler holds what the routes need.
type Handler struct {
	Sessions *session.Service
	Resets   *reset.Manager
	Analyzer Analyzer
	Config   Snapshots
	Signer   *identity.Signer
	AdminKey string
	// LogDir holds the query and usage NDJSON files.
	LogDir  string
	Version string
	Logger  *zap.Logger
}

func (h *Handler) Routes() http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.accessLog)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.Signer.Middleware)
		r.Get("/status", h.status)
		r.Post("/chat", h.chat)
		r.Post("/vet", h.vet)
		r.With(h.requireAdmin).Get("/reset", h.resetOwnSession)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/reset-requests", h.listResetRequests)
		r.Post("/reset-requests/{id}/approve", h.approve)
		r.Post("/reset-requests/{id}/deny", h.deny)
		r.Post("/reset-requests/{id}/reset-session", h.resetApproved)
		r.Get("/dataset", h.dataset)
		r.Get("/usage", h.usage)
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.Logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}
