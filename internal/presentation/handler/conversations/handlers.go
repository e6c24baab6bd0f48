package conversations

import (
	"net/http"

	"github.com/hilthontt/roomsync/internal/conversations"
	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"go.uber.org/zap"
)

type Source interface {
	Conversations() *conversations.Synchronizer
}

type Handler struct {
	source Source
	logger *zap.Logger
}

func NewHandler(source Source, logger *zap.Logger) *Handler {
	return &Handler{source: source, logger: logger}
}

func (h *Handler) ListHandler(w http.ResponseWriter, r *http.Request) {
	list, loaded := h.source.Conversations().Summaries()
	json.Write(w, http.StatusOK, listResponse{Conversations: list, Loaded: loaded})
}

// RefreshHandler reloads the list now instead of waiting for the next poll.
func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	sync := h.source.Conversations()
	if err := sync.Refresh(r.Context()); err != nil {
		json.WriteDomainError(w, h.logger, err)
		return
	}
	list, loaded := sync.Summaries()
	json.Write(w, http.StatusOK, listResponse{Conversations: list, Loaded: loaded})
}

func (h *Handler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	h.source.Conversations().MarkRead(req.RoomID)
	w.WriteHeader(http.StatusNoContent)
}
