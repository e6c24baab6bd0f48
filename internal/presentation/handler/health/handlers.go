package health

import (
	"net/http"
	"time"

	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"github.com/hilthontt/roomsync/internal/room"
)

type RoomSource interface {
	Room() *room.Controller
}

type Handler struct {
	rooms RoomSource
}

func NewHandler(rooms RoomSource) *Handler {
	return &Handler{rooms: rooms}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	view := h.rooms.Room().View()
	data := healthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC(),
		RoomID:     view.RoomID,
		Connection: view.Connection,
	}
	json.Write(w, http.StatusOK, data)
}
