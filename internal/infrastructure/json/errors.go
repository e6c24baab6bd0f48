package json

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: msg,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func WriteValidationError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, err.Error())
}

func WriteBadRequestError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

func WriteInternalError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if logger != nil {
		logger.Error("internal error", zap.Error(err))
	}
	WriteError(w, http.StatusInternalServerError, "An unexpected error occurred")
}

func WriteRateLimitError(w http.ResponseWriter, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
}

// WriteDomainError maps the errors the room and session layers return onto
// status codes. Upstream failures keep the chat service's status and message.
func WriteDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		WriteError(w, status, apiErr.Message)
	case errors.Is(err, domain.ErrNoSession):
		WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNoActiveRoom):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMessageNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, api.ErrFileTooLarge):
		WriteValidationError(w, err)
	default:
		WriteInternalError(w, logger, err)
	}
}
