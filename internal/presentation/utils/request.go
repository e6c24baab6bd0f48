package utils

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// URLParam returns the named route parameter or an error naming it.
func URLParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if v == "" {
		return "", fmt.Errorf("%s is missing", key)
	}
	return v, nil
}

// QueryBool reads a boolean query parameter; absent or malformed is false.
func QueryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// SourceKey identifies the caller for rate limiting. RealIP has already
// rewritten RemoteAddr when a proxy header was present.
func SourceKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
