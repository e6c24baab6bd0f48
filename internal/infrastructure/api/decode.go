package api

import (
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/tidwall/gjson"
)

type Participant struct {
	ID       string     `json:"id"`
	RoomID   string     `json:"roomId"`
	UserID   string     `json:"userId"`
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
}

type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactBlocked  ContactStatus = "blocked"
)

type Contact struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	ContactID string        `json:"contactId"`
	Status    ContactStatus `json:"status"`
	CreatedAt *time.Time    `json:"createdAt,omitempty"`
	Contact   *domain.User  `json:"contact,omitempty"`
}

type Attachment struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"messageId"`
	FileURL    string     `json:"fileUrl"`
	FileType   string     `json:"fileType"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
}

type Upload struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

func parseTime(r gjson.Result) *time.Time {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	t, ok := ws.ParseTime(r.String())
	if !ok {
		return nil
	}
	return &t
}

func decodeUser(r gjson.Result) domain.User {
	return domain.User{
		ID:        r.Get("id").String(),
		Username:  r.Get("username").String(),
		Email:     r.Get("email").String(),
		IsActive:  r.Get("is_active").Bool(),
		CreatedAt: parseTime(r.Get("created_at")),
		LastLogin: parseTime(r.Get("last_login")),
	}
}

func decodeRoom(r gjson.Result) domain.Room {
	return domain.Room{
		ID:      r.Get("id").String(),
		Name:    r.Get("name").String(),
		IsGroup: r.Get("is_group").Bool(),
	}
}

func decodeParticipant(r gjson.Result) Participant {
	return Participant{
		ID:       r.Get("id").String(),
		RoomID:   r.Get("room_id").String(),
		UserID:   r.Get("user_id").String(),
		JoinedAt: parseTime(r.Get("joined_at")),
	}
}

func decodeContact(r gjson.Result) Contact {
	c := Contact{
		ID:        r.Get("id").String(),
		UserID:    r.Get("user_id").String(),
		ContactID: r.Get("contact_id").String(),
		Status:    ContactStatus(r.Get("status").String()),
		CreatedAt: parseTime(r.Get("created_at")),
	}
	if u := r.Get("contact"); u.IsObject() {
		user := decodeUser(u)
		c.Contact = &user
	}
	return c
}

func decodeAttachment(r gjson.Result) Attachment {
	return Attachment{
		ID:         r.Get("id").String(),
		MessageID:  r.Get("message_id").String(),
		FileURL:    r.Get("file_url").String(),
		FileType:   r.Get("file_type").String(),
		UploadedAt: parseTime(r.Get("uploaded_at")),
	}
}

func decodeList[T any](body []byte, fn func(gjson.Result) T) []T {
	arr := gjson.ParseBytes(body)
	if !arr.IsArray() {
		return []T{}
	}
	out := make([]T, 0, len(arr.Array()))
	arr.ForEach(func(_, v gjson.Result) bool {
		out = append(out, fn(v))
		return true
	})
	return out
}
