package session

import (
	"context"
	"net/http"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"go.uber.org/zap"
)

type Service interface {
	Login(ctx context.Context, username, password string) (domain.Session, error)
	Logout() error
	Session() (domain.Session, error)
}

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	sess, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}

	json.Write(w, http.StatusOK, sessionResponse{User: sess.User})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(); err != nil {
		json.WriteInternalError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Session()
	if err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	json.Write(w, http.StatusOK, sessionResponse{User: sess.User})
}
