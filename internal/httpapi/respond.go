package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/EricBell/profile-gpt/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("request body must be a JSON object")
	}
	return nil
}

// fail maps domain errors to status codes. retry is shown when a model call
// failed.
func fail(w http.ResponseWriter, log *zap.Logger, err error, retry string) {
	var tooLong *domain.InputTooLongError
	switch {
	case errors.As(err, &tooLong):
		Error(w, http.StatusBadRequest, tooLong.Error())
	case errors.Is(err, domain.ErrEmptyInput):
		Error(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, domain.ErrDependency):
		Error(w, http.StatusBadGateway, retry)
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, "admin key required")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "reset request not found")
	case errors.Is(err, domain.ErrInvalidState):
		Error(w, http.StatusConflict, "reset request is already resolved")
	default:
		log.Error("request failed", zap.Error(err))
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
