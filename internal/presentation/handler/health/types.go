package health

import "time"

type healthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	RoomID     string    `json:"roomId,omitempty"`
	Connection string    `json:"connection"`
}
