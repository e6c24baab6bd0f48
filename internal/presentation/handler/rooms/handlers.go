package rooms

import (
	"context"
	"errors"
	"net/http"

	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"github.com/hilthontt/roomsync/internal/presentation/utils"
	"github.com/hilthontt/roomsync/internal/room"
	"go.uber.org/zap"
)

type Service interface {
	OpenRoom(ctx context.Context, roomID string) error
	Room() *room.Controller
}

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// OpenRoomHandler switches the view. A history failure still opens the room,
// so the view is returned together with the error text.
func (h *Handler) OpenRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := utils.URLParam(r, "roomId")
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.service.OpenRoom(r.Context(), roomID); err != nil {
		switch {
		case errors.Is(err, room.ErrSuperseded):
			json.WriteError(w, http.StatusConflict, "Another room was opened meanwhile")
			return
		case errors.Is(err, room.ErrHistoryUnavailable):
			h.logger.Warn("room opened without history", zap.String("roomId", roomID), zap.Error(err))
		default:
			json.WriteDomainError(w, h.logger, err)
			return
		}
	}

	json.Write(w, http.StatusOK, h.service.Room().View())
}

func (h *Handler) GetCurrentRoomHandler(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, h.service.Room().View())
}

func (h *Handler) TypingHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Room().InputChanged(); err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Room().Reconnect(); err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
