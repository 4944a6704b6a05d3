package httpapi

import (
	"net/http"
	"strings"

	"github.com/EricBell/profile-gpt/internal/identity"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/session"
)

const (
	chatRetryText = "The assistant is unavailable right now, please try again."
	vetRetryText  = "Analysis failed, please try again."
)

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": h.Version})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionFromContext(r.Context())
	report, err := h.Sessions.Status(r.Context(), sessionID, h.Config.Snapshot().Tunables)
	if err != nil {
		fail(w, logger.WithSession(h.Logger, sessionID), err, chatRetryText)
		return
	}

	JSON(w, http.StatusOK, struct {
		*session.Report
		Version string `json:"version"`
	}{report, h.Version})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := identity.SessionFromContext(r.Context())
	reply, err := h.Sessions.HandleMessage(r.Context(), sessionID, req.Message, h.Config.Snapshot())
	if err != nil {
		fail(w, logger.WithSession(h.Logger, sessionID), err, chatRetryText)
		return
	}

	status := http.StatusOK
	switch reply.Kind {
	case session.KindLimitReached, session.KindResetRequested, session.KindResetPending:
		status = http.StatusTooManyRequests
	}
	JSON(w, status, reply)
}

type vetRequest struct {
	JobDescription string `json:"job_description"`
}

func (h *Handler) vet(w http.ResponseWriter, r *http.Request) {
	var req vetRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		Error(w, http.StatusBadRequest, "job description is empty")
		return
	}

	sessionID := identity.SessionFromContext(r.Context())
	snap := h.Config.Snapshot()
	result, err := h.Analyzer.Analyze(r.Context(), sessionID, req.JobDescription, snap.Persona, snap.Tunables.MaxJobDescriptionLength)
	if err != nil {
		fail(w, logger.WithSession(h.Logger, sessionID), err, vetRetryText)
		return
	}
	JSON(w, http.StatusOK, result)
}
