// Package api is the bearer-token JSON client for the chat service's REST
// endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultTimeout        = 15 * time.Second
	DefaultMaxUploadBytes = 10 << 20
	userAgent             = "roomsync/1.0"
)

type Client struct {
	baseURL        string
	uploadURL      string
	doer           HTTPDoer
	tokens         TokenSource
	middlewares    []Middleware
	maxRetries     int
	retryDelay     time.Duration
	maxUploadBytes int64
	logger         *zap.Logger
	metrics        *metrics.Metrics

	Users       *UserService
	Rooms       *RoomService
	Messages    *MessageService
	Attachments *AttachmentService
	Contacts    *ContactService
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:        DefaultBaseURL,
		tokens:         StaticToken(""),
		retryDelay:     200 * time.Millisecond,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = NewHTTPClient(DefaultTimeout)
	}

	c.Users = &UserService{client: c}
	c.Rooms = &RoomService{client: c}
	c.Messages = &MessageService{client: c}
	c.Attachments = &AttachmentService{client: c}
	c.Contacts = &ContactService{client: c}
	return c
}

// NewHTTPClient is the instrumented transport used when none is supplied.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type request struct {
	method      string
	path        string
	url         string
	query       url.Values
	body        any
	rawBody     []byte
	contentType string
	anonymous   bool
}

// Execute performs a JSON call against path and decodes the answer into res
// when res is non-nil. It is the escape hatch for endpoints without a service
// method.
func (c *Client) Execute(ctx context.Context, method, path string, params, res any) error {
	body, err := c.do(ctx, request{method: method, path: path, body: params})
	if err != nil || res == nil || len(body) == 0 {
		return err
	}
	if raw, ok := res.(*[]byte); ok {
		*raw = body
		return nil
	}
	return json.Unmarshal(body, res)
}

func (c *Client) Get(ctx context.Context, path string, res any) error {
	return c.Execute(ctx, http.MethodGet, path, nil, res)
}

func (c *Client) Post(ctx context.Context, path string, params, res any) error {
	return c.Execute(ctx, http.MethodPost, path, params, res)
}

func (c *Client) Put(ctx context.Context, path string, params, res any) error {
	return c.Execute(ctx, http.MethodPut, path, params, res)
}

func (c *Client) Delete(ctx context.Context, path string, res any) error {
	return c.Execute(ctx, http.MethodDelete, path, nil, res)
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if r.method != http.MethodGet || c.maxRetries <= 0 {
		return c.once(ctx, r)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay

	return backoff.Retry(ctx, func() ([]byte, error) {
		body, err := c.once(ctx, r)
		if err == nil {
			return body, nil
		}
		if status := StatusCode(err); status > 0 && status < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		c.logger.Debug("retrying request", zap.String(string(logging.Path), r.path), zap.Error(err))
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.maxRetries+1)))
}

func (c *Client) once(ctx context.Context, r request) ([]byte, error) {
	target := r.url
	if target == "" {
		target = c.baseURL + r.path
	}
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	contentType := r.contentType
	switch {
	case r.rawBody != nil:
		body = bytes.NewReader(r.rawBody)
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !r.anonymous {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.chain()(req)
	if err != nil {
		c.metrics.RecordHTTP(r.method, 0)
		return nil, err
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTP(r.method, resp.StatusCode)
	c.logger.Debug("chat service call",
		zap.String(string(logging.Method), r.method),
		zap.String(string(logging.Path), r.path),
		zap.Int(string(logging.StatusCode), resp.StatusCode),
		zap.Duration(string(logging.Latency), time.Since(start)))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(resp.StatusCode, data)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return data, nil
}

func (c *Client) chain() MiddlewareNext {
	next := c.doer.Do
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw, inner := c.middlewares[i], next
		next = func(r *http.Request) (*http.Response, error) {
			return mw(r, inner)
		}
	}
	return next
}

// idValue sends numeric ids as JSON numbers, which the service expects.
func idValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func requireID(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return ErrMissingID
		}
	}
	return nil
}

// IsUnauthorized reports whether the service rejected the bearer token.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
