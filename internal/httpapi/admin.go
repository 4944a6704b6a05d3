package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/identity"
	"github.com/EricBell/profile-gpt/internal/ndjson"
	"github.com/EricBell/profile-gpt/internal/querylog"
	"github.com/EricBell/profile-gpt/internal/reset"
	"github.com/EricBell/profile-gpt/internal/usage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const AdminKeyHeader = "X-Admin-Key"

type callerKey struct{}

func callerFrom(ctx context.Context) reset.Caller {
	c, _ := ctx.Value(callerKey{}).(reset.Caller)
	return c
}

// requireAdmin accepts the admin key from the header or the key query
// parameter. Admin routes are closed when no key is configured.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminKey == "" {
			Error(w, http.StatusForbidden, "admin endpoints are not configured")
			return
		}

		key := r.Header.Get(AdminKeyHeader)
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.AdminKey)) != 1 {
			h.Logger.Warn("rejected admin request", zap.String("path", r.URL.Path))
			Error(w, http.StatusForbidden, "invalid admin key")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, reset.Caller{Admin: true})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) resetOwnSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionFromContext(r.Context())
	sess, err := h.Resets.ResetSession(r.Context(), callerFrom(r.Context()), sessionID)
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Session reset successfully",
		"session": sess.ID,
	})
}

func (h *Handler) listResetRequests(w http.ResponseWriter, r *http.Request) {
	status, ok := domain.ParseRequestStatus(r.URL.Query().Get("status"))
	if !ok {
		Error(w, http.StatusBadRequest, "status must be pending, approved, denied or all")
		return
	}

	requests, err := h.Resets.List(r.Context(), status)
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	if requests == nil {
		requests = []*domain.ResetRequest{}
	}
	JSON(w, http.StatusOK, map[string]any{"requests": requests, "count": len(requests)})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Resets.Approve(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":     domain.RequestApproved,
		"session_id": sess.ID,
	})
}

// resetApproved finishes an approval whose session reset failed.
func (h *Handler) resetApproved(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Resets.ResetApproved(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"session_id": sess.ID,
	})
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	req, err := h.Resets.Deny(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *Handler) dataset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := time.Now()

	from, to, err := dayRange(q.Get("start_date"), q.Get("end_date"), now)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := querylog.ParseFilteredMode(q.Get("filtered"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), querylog.DefaultLimit)
	if err != nil {
		Error(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		Error(w, http.StatusBadRequest, "offset must be a number")
		return
	}

	page, err := querylog.Dataset(h.LogDir, querylog.Query{
		From:      from,
		To:        to,
		SessionID: q.Get("session_id"),
		Filtered:  mode,
		Limit:     limit,
		Offset:    offset,
	}, h.Logger)
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	JSON(w, http.StatusOK, page)
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, to, err := dayRange(q.Get("start_date"), q.Get("end_date"), time.Now())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	top, err := intParam(q.Get("top"), 10)
	if err != nil {
		Error(w, http.StatusBadRequest, "top must be a number")
		return
	}

	events, skipped, err := usage.Load(h.LogDir, usage.Filter{From: from, To: to, SessionID: q.Get("session_id")})
	if err != nil {
		fail(w, h.Logger, err, "")
		return
	}
	summary := usage.Summarize(events, top)
	summary.SkippedLines = skipped
	JSON(w, http.StatusOK, summary)
}

func dayRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if start != "" {
		if from, err = ndjson.ParseDay(start, now); err != nil {
			return from, to, err
		}
	}
	if end != "" {
		if to, err = ndjson.ParseDay(end, now); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func intParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}
