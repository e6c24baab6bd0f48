package messages

import "github.com/hilthontt/roomsync/internal/domain"

type createMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type updateMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type sendResponse struct {
	Message domain.Message `json:"message"`
	Error   string         `json:"error,omitempty"`
}
