// Package docstore is a client for a remote JSON document store that keeps
// one document per bin and is addressed as {base}/{bin}.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public endpoint of the hosted document store.
	DefaultBaseURL = "https://api.jsonbin.io/v3/b"

	masterKeyHeader = "X-Master-Key"
)

// ErrPreconditionFailed is returned by Put when the If-Match token no longer
// matches the stored document.
var ErrPreconditionFailed = errors.New("document changed since it was read")

// Observer receives one call per request. status is 0 when no response arrived.
type Observer interface {
	ObserveStoreRequest(op string, status int, d time.Duration)
}

// Client reads and replaces a single document.
type Client struct {
	endpoint   string
	masterKey  string
	httpClient *http.Client
	observer   Observer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithObserver reports request outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// New constructs a Client for the document identified by binID.
func New(baseURL, binID, masterKey string, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid docstore base url: %w", err)
	}
	binID = strings.TrimSpace(binID)
	if binID == "" {
		return nil, errors.New("docstore bin id is required")
	}
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("docstore master key is required")
	}

	c := &Client{
		endpoint:   strings.TrimRight(base, "/") + "/" + url.PathEscape(binID),
		masterKey:  masterKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StatusError represents a non-2xx response from the store.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("docstore request failed with status %d", e.Status)
	}
	return fmt.Sprintf("docstore request failed (%d): %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusPreconditionFailed {
		return ErrPreconditionFailed
	}
	return nil
}

type envelope struct {
	Record   json.RawMessage `json:"record"`
	Metadata Metadata        `json:"metadata"`
}

// Metadata is the bookkeeping the store returns next to the record.
type Metadata struct {
	ID        string `json:"id,omitempty"`
	ParentID  string `json:"parentId,omitempty"`
	Private   bool   `json:"private,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Get fetches the document and unmarshals its record into v.
// The returned etag is empty when the store does not provide one.
func (c *Client) Get(ctx context.Context, v any) (string, error) {
	var env envelope
	etag, err := c.do(ctx, http.MethodGet, nil, "", &env)
	if err != nil {
		return "", err
	}
	if v == nil || len(env.Record) == 0 || string(env.Record) == "null" {
		return etag, nil
	}
	if err := json.Unmarshal(env.Record, v); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	return etag, nil
}

// Put replaces the whole document with record. A non-empty etag is sent as
// If-Match so the store can refuse the write when the document has moved on.
func (c *Client) Put(ctx context.Context, record any, etag string) (string, error) {
	return c.do(ctx, http.MethodPut, record, etag, nil)
}

// Ping checks that the document is reachable with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, nil, "", nil)
	return err
}

func (c *Client) do(ctx context.Context, method string, body any, etag string, v any) (string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, reader)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(masterKeyHeader, c.masterKey)
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, 0, start)
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(method, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header.Get("ETag"), nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return resp.Header.Get("ETag"), nil
}

func (c *Client) observe(method string, status int, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveStoreRequest(strings.ToLower(method), status, time.Since(start))
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}
