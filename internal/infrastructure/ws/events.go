package ws

import (
	"errors"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/tidwall/gjson"
)

var ErrMalformedFrame = errors.New("malformed frame")

// naiveLayout is how the chat service renders timestamps without a zone; they are UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// DecodeEvent parses one inbound frame. The service nests payloads under "data"
// but older frames carry fields at the top level, ids may be numbers, and keys may
// be snake_case or camelCase; all of these are accepted.
func DecodeEvent(raw []byte) (domain.InboundEvent, error) {
	if !gjson.ValidBytes(raw) {
		return domain.InboundEvent{}, ErrMalformedFrame
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return domain.InboundEvent{}, ErrMalformedFrame
	}
	typ := root.Get("type").String()
	if typ == "" {
		return domain.InboundEvent{}, ErrMalformedFrame
	}

	payload := root.Get("data")
	if !payload.IsObject() {
		payload = root
	}

	ev := domain.InboundEvent{
		Type:   domain.EventType(typ),
		RoomID: first(payload, "room_id", "roomId"),
		Raw:    raw,
	}
	if ev.RoomID == "" {
		ev.RoomID = first(root, "room_id", "roomId")
	}

	switch ev.Type {
	case domain.EventMessage:
		msg, ok := decodeMessage(payload, root)
		if !ok {
			return domain.InboundEvent{}, ErrMalformedFrame
		}
		ev.Message = &msg
		if ev.RoomID == "" {
			ev.RoomID = msg.RoomID
		}

	case domain.EventMessageSent:
		ev.MessageID = first(payload, "message_id", "messageId", "id")
		ev.UpdatedAt = parseTimePtr(first(payload, "timestamp", "created_at"))

	case domain.EventMessageUpdated:
		ev.MessageID = first(payload, "message_id", "messageId", "id")
		ev.Content = payload.Get("content").String()
		ev.UpdatedAt = parseTimePtr(first(payload, "updated_at", "updatedAt", "timestamp"))
		if ev.MessageID == "" {
			return domain.InboundEvent{}, ErrMalformedFrame
		}

	case domain.EventMessageDeleted:
		ev.MessageID = first(payload, "message_id", "messageId", "id")
		if ev.MessageID == "" {
			return domain.InboundEvent{}, ErrMalformedFrame
		}

	case domain.EventTyping:
		ev.UserID = first(payload, "user_id", "userId", "senderId", "sender_id")
		ev.Username = payload.Get("username").String()
		ev.IsTyping = true
		if v := firstResult(payload, "is_typing", "isTyping"); v.Exists() {
			ev.IsTyping = v.Bool()
		}

	case domain.EventOnline, domain.EventOffline, domain.EventUserJoined, domain.EventUserLeft:
		ev.UserID = first(payload, "user_id", "userId")
		ev.Username = payload.Get("username").String()

	case domain.EventError:
		ev.Error = first(payload, "message", "detail")
	}

	return ev, nil
}

func decodeMessage(payload, root gjson.Result) (domain.Message, bool) {
	id := first(payload, "id", "message_id", "messageId")
	if id == "" {
		return domain.Message{}, false
	}

	createdAt, ok := parseTime(first(payload, "created_at", "createdAt", "timestamp"))
	if !ok {
		if createdAt, ok = parseTime(root.Get("timestamp").String()); !ok {
			createdAt = time.Now().UTC()
		}
	}

	msg := domain.Message{
		ID:         id,
		RoomID:     first(payload, "room_id", "roomId"),
		SenderID:   first(payload, "user_id", "userId", "senderId", "sender_id"),
		SenderName: payload.Get("username").String(),
		Content:    payload.Get("content").String(),
		Type:       domain.MessageType(first(payload, "message_type", "messageType")),
		FileURL:    first(payload, "file_url", "fileUrl"),
		FileName:   first(payload, "file_name", "fileName"),
		ClientID:   first(payload, "client_id", "clientId"),
		Deleted:    firstResult(payload, "is_deleted", "isDeleted").Bool(),
		CreatedAt:  createdAt,
		UpdatedAt:  parseTimePtr(first(payload, "updated_at", "updatedAt")),
	}
	if msg.Type == "" {
		msg.Type = domain.TextMessage
	}
	return msg, true
}

// MessageFromJSON maps one REST message record onto the confirmed representation.
func MessageFromJSON(raw []byte) (domain.Message, bool) {
	if !gjson.ValidBytes(raw) {
		return domain.Message{}, false
	}
	r := gjson.ParseBytes(raw)
	return decodeMessage(r, r)
}

// MessagesFromJSON maps a REST array of message records, skipping unusable entries.
func MessagesFromJSON(raw []byte) []domain.Message {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil
	}

	out := make([]domain.Message, 0, len(arr.Array()))
	arr.ForEach(func(_, value gjson.Result) bool {
		if msg, ok := decodeMessage(value, value); ok {
			out = append(out, msg)
		}
		return true
	})
	return out
}

func first(r gjson.Result, keys ...string) string {
	return firstResult(r, keys...).String()
}

func firstResult(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// ParseTime accepts RFC 3339 and the service's zone-less ISO format.
func ParseTime(s string) (time.Time, bool) {
	return parseTime(s)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(naiveLayout, s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseTimePtr(s string) *time.Time {
	t, ok := parseTime(s)
	if !ok {
		return nil
	}
	return &t
}

// OutboundFrame is the envelope the client writes. The service reads typing
// state from the top-level is_typing; data carries the same for other peers.
type OutboundFrame struct {
	Type        domain.EventType   `json:"type"`
	Content     string             `json:"content,omitempty"`
	ClientID    string             `json:"client_id,omitempty"`
	MessageType domain.MessageType `json:"message_type,omitempty"`
	FileURL     string             `json:"file_url,omitempty"`
	FileName    string             `json:"file_name,omitempty"`
	IsTyping    *bool              `json:"is_typing,omitempty"`
	Data        any                `json:"data,omitempty"`
}

type typingData struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type roomData struct {
	RoomID string `json:"roomId"`
}

func MessageFrame(m domain.Message) OutboundFrame {
	f := OutboundFrame{
		Type:     domain.EventMessage,
		Content:  m.Content,
		ClientID: m.ClientID,
	}
	if m.Type != "" && m.Type != domain.TextMessage {
		f.MessageType = m.Type
		f.FileURL = m.FileURL
		f.FileName = m.FileName
	}
	return f
}

func TypingFrame(receiverID string, typing bool) OutboundFrame {
	return OutboundFrame{
		Type:     domain.EventTyping,
		IsTyping: &typing,
		Data:     typingData{ReceiverID: receiverID, IsTyping: typing},
	}
}

func JoinRoomFrame(roomID string) OutboundFrame {
	return OutboundFrame{Type: domain.EventJoinRoom, Data: roomData{RoomID: roomID}}
}

func LeaveRoomFrame(roomID string) OutboundFrame {
	return OutboundFrame{Type: domain.EventLeaveRoom, Data: roomData{RoomID: roomID}}
}

func PingFrame() OutboundFrame {
	return OutboundFrame{Type: domain.EventPing}
}
