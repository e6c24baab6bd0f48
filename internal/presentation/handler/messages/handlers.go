package messages

import (
	"errors"
	"net/http"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/api"
	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/hilthontt/roomsync/internal/presentation/utils"
	"github.com/hilthontt/roomsync/internal/room"
	"go.uber.org/zap"
)

const maxMultipartMemory = 1 << 20

type RoomSource interface {
	Room() *room.Controller
}

type Handler struct {
	rooms  RoomSource
	logger *zap.Logger
}

func NewHandler(rooms RoomSource, logger *zap.Logger) *Handler {
	return &Handler{rooms: rooms, logger: logger}
}

// CreateNewMessageHandler sends optimistically. When the socket is down the
// message is kept pending and 202 tells the UI it may retract it.
func (h *Handler) CreateNewMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	msg, err := h.rooms.Room().Send(r.Context(), req.Content)
	h.writeSendResult(w, msg, err)
}

func (h *Handler) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		json.WriteBadRequestError(w, "expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		json.WriteBadRequestError(w, "file is missing")
		return
	}
	defer file.Close()

	msg, err := h.rooms.Room().SendAttachment(r.Context(), api.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	})
	h.writeSendResult(w, msg, err)
}

func (h *Handler) UpdateMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID, err := utils.URLParam(r, "messageId")
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	var req updateMessageRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	msg, err := h.rooms.Room().Edit(r.Context(), messageID, req.Content)
	if err != nil {
		h.writeMessageError(w, err)
		return
	}
	json.Write(w, http.StatusOK, msg)
}

// DeleteMessageHandler soft deletes unless ?hard=true.
func (h *Handler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID, err := utils.URLParam(r, "messageId")
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.rooms.Room().Delete(r.Context(), messageID, utils.QueryBool(r, "hard")); err != nil {
		h.writeMessageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetractMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID, err := utils.URLParam(r, "messageId")
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.rooms.Room().Retract(messageID); err != nil {
		h.writeMessageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeSendResult(w http.ResponseWriter, msg domain.Message, err error) {
	switch {
	case err == nil:
		json.Write(w, http.StatusCreated, sendResponse{Message: msg})
	case errors.Is(err, ws.ErrNotConnected) && msg.ID != "":
		json.Write(w, http.StatusAccepted, sendResponse{Message: msg, Error: err.Error()})
	default:
		h.writeMessageError(w, err)
	}
}

func (h *Handler) writeMessageError(w http.ResponseWriter, err error) {
	if errors.Is(err, room.ErrNotConfirmed) {
		json.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	json.WriteDomainError(w, h.logger, err)
}
