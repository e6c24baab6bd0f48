package api

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMissingID      = errors.New("missing required id parameter")
	ErrMissingContent = errors.New("missing required content")
	ErrFileTooLarge   = errors.New("file exceeds the upload size limit")
	ErrNoUploadURL    = errors.New("no upload endpoint configured")
)

// Error is a non-2xx answer from the chat service. Message is what the user
// should see.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

const unknownErrorMessage = "unknown error"

// newError takes the body's "message", then "detail", then falls back to
// "HTTP <status>". A body that is not JSON yields the generic message.
func newError(status int, body []byte) *Error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return &Error{StatusCode: status, Message: unknownErrorMessage}
	}

	r := gjson.ParseBytes(body)
	msg := r.Get("message").String()
	if msg == "" {
		detail := r.Get("detail")
		if detail.IsArray() {
			// validation errors arrive as [{"loc": [...], "msg": "..."}]
			msg = detail.Get("0.msg").String()
		} else {
			msg = detail.String()
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &Error{StatusCode: status, Message: msg}
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
