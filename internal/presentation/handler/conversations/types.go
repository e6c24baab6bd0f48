package conversations

import "github.com/hilthontt/roomsync/internal/domain"

type listResponse struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	Loaded        bool                         `json:"loaded"`
}

type markReadRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}
