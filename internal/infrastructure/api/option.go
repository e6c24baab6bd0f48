package api

import (
	"net/http"
	"net/http/httputil"
	"regexp"
	"strings"
	"time"

	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// HTTPDoer is usually an [*http.Client].
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource yields the bearer token for authenticated calls; "" sends none.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

type MiddlewareNext = func(*http.Request) (*http.Response, error)

type Middleware = func(*http.Request, MiddlewareNext) (*http.Response, error)

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithUploadURL sets the absolute endpoint that accepts multipart file uploads.
func WithUploadURL(u string) Option {
	return func(c *Client) { c.uploadURL = u }
}

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.doer = doer }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithMiddleware(mw ...Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mw...) }
}

// WithMaxRetries retries idempotent GETs on transport errors and 5xx answers.
func WithMaxRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.retryDelay = delay
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(c *Client) { c.maxUploadBytes = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.For(l, logging.API, logging.ExternalService) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

var sensitiveHeaderRegex = regexp.MustCompile(`(?im)^(Authorization|Cookie|Set-Cookie|X-Api-Key): .+$`)

func redactSensitiveHeaders(s string) string {
	return sensitiveHeaderRegex.ReplaceAllString(s, "$1: [REDACTED]")
}

// WithDebugLog dumps every request and response at debug level with
// credentials redacted.
func WithDebugLog(l *zap.Logger) Option {
	if l == nil {
		l = zap.NewNop()
	}
	l = logging.For(l, logging.API, logging.ExternalService)

	return WithMiddleware(func(r *http.Request, next MiddlewareNext) (*http.Response, error) {
		if dump, err := httputil.DumpRequestOut(r, true); err == nil {
			l.Debug("request", zap.String("dump", redactSensitiveHeaders(string(dump))))
		}

		resp, err := next(r)

		if resp != nil {
			if dump, err := httputil.DumpResponse(resp, true); err == nil {
				l.Debug("response", zap.String("dump", redactSensitiveHeaders(string(dump))))
			}
		}
		if err != nil {
			l.Debug("request error", zap.Error(err))
		}

		return resp, err
	})
}
