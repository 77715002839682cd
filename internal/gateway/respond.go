package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-clone-service/internal/core"
)

// errorResponse is the JSON body for every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmptyText), errors.Is(err, core.ErrTextTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUnsupportedFormat), errors.Is(err, core.ErrInvalidAudio):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		log.Error("Failed to encode response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}

	message := err.Error()
	if errors.Is(err, core.ErrStorage) {
		// Storage details stay in the log; paths do not belong on the wire.
		message = core.ErrStorage.Error()
	}

	writeJSON(w, log, status, errorResponse{Error: message})
}
