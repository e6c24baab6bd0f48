package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TextMessage     MessageType = "text"
	ImageMessage    MessageType = "image"
	DocumentMessage MessageType = "document"
)

// ProvisionalPrefix marks a message id that the server has not confirmed yet.
const ProvisionalPrefix = "temp-"

type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileURL    string      `json:"fileUrl,omitempty"`
	FileName   string      `json:"fileName,omitempty"`
	ClientID   string      `json:"clientId,omitempty"`
	Deleted    bool        `json:"isDeleted,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  *time.Time  `json:"updatedAt,omitempty"`
}

// NewPendingMessage builds an optimistic local message. The provisional id and the
// client id are both fresh; the client id travels in the outbound frame.
func NewPendingMessage(roomID string, sender User, content string, now time.Time) Message {
	return Message{
		ID:         ProvisionalPrefix + uuid.NewString(),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    content,
		Type:       TextMessage,
		ClientID:   uuid.NewString(),
		CreatedAt:  now,
	}
}

func (m Message) Pending() bool {
	return IsProvisionalID(m.ID)
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// MessageTypeForMIME maps an upload content type onto the message kind shown for it.
func MessageTypeForMIME(mime string) MessageType {
	if strings.HasPrefix(mime, "image/") {
		return ImageMessage
	}
	return DocumentMessage
}
