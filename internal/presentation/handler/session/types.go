package session

import "github.com/hilthontt/roomsync/internal/domain"

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// The token stays on disk; the local UI only needs to know who is signed in.
type sessionResponse struct {
	User domain.User `json:"user"`
}
