package domain

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrNoActiveRoom    = errors.New("no room is open")
	ErrNoSession       = errors.New("not logged in")
	ErrMessageNotFound = errors.New("message not found")
)
