package domain

import "time"

type EventType string

const (
	EventMessage        EventType = "message"
	EventMessageSent    EventType = "message_sent"
	EventMessageUpdated EventType = "message_updated"
	EventMessageDeleted EventType = "message_deleted"
	EventTyping         EventType = "typing"
	EventOnline         EventType = "online"
	EventOffline        EventType = "offline"
	EventJoinRoom       EventType = "join_room"
	EventLeaveRoom      EventType = "leave_room"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventConnected      EventType = "connected"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// InboundEvent is one decoded frame from the room socket. Only the fields
// relevant to Type are populated.
type InboundEvent struct {
	Type   EventType
	RoomID string

	// message
	Message *Message

	// message_sent, message_updated, message_deleted
	MessageID string
	Content   string
	UpdatedAt *time.Time

	// typing, online, offline, user_joined, user_left
	UserID   string
	Username string
	IsTyping bool

	// error
	Error string

	Raw []byte
}

// Presence reports whether the event toggles a user's online flag, and to what.
func (e InboundEvent) Presence() (online bool, ok bool) {
	switch e.Type {
	case EventOnline, EventUserJoined:
		return true, e.UserID != ""
	case EventOffline, EventUserLeft:
		return false, e.UserID != ""
	}
	return false, false
}
