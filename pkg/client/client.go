package client

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
	"strings"
	"time"

	"github.com/jmerrifield20/auditledger/internal/ledger"
)

// Wire types shared with the server.
type (
	Entry         = ledger.Entry
	AppendRequest = ledger.AppendRequest
	Actor         = ledger.Actor
	Target        = ledger.Target
	Changes       = ledger.Changes
	Tail          = ledger.Tail
	Report        = ledger.Report
	Violation     = ledger.Violation
)

var (
	// ErrNotFound is returned when the requested entry does not exist.
	ErrNotFound = errors.New("entry not found")
	// ErrUnauthorized is returned for a missing, invalid or under-privileged token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when the ledger was too busy to sequence an
	// append. The append was not recorded and may be retried.
	ErrConflict = errors.New("ledger busy")
)

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	StatusCode int
	Message    string
	Field      string // set for validation failures
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("ledger api %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("ledger api %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Filter narrows ByActor and ByTarget. Zero values are omitted.
type Filter struct {
	Limit    int
	Skip     int
	Action   string
	Severity string
	From     time.Time
	To       time.Time
}

func (f Filter) values() url.Values {
	v := url.Values{}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Skip > 0 {
		v.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Action != "" {
		v.Set("action", f.Action)
	}
	if f.Severity != "" {
		v.Set("severity", f.Severity)
	}
	if !f.From.IsZero() {
		v.Set("from", f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		v.Set("to", f.To.UTC().Format(time.RFC3339Nano))
	}
	return v
}

// DefaultMaxResponseBytes bounds a response body unless WithMaxResponseBytes
// overrides it.
const DefaultMaxResponseBytes = 64 << 20

// ErrResponseTooLarge is returned when a response body exceeds the client's
// limit. Narrow the query with Filter.Limit or raise WithMaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// Client talks to one ledgerd instance.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	bearerToken      string
	maxResponseBytes int64
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a role token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithMaxResponseBytes sets the largest response body the client will read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return errors.New("max response bytes must be positive")
		}
		c.maxResponseBytes = n
		return nil
	}
}

// New creates a Client for the ledgerd instance at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append records one action. Requires a producer token.
func (c *Client) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	var entry Entry
	if err := c.call(ctx, http.MethodPost, "/api/v1/audit/entries", nil, req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Head returns the newest sequence number and its hash. Requires an auditor token.
func (c *Client) Head(ctx context.Context) (*Tail, error) {
	var tail Tail
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit", nil, nil, &tail); err != nil {
		return nil, err
	}
	return &tail, nil
}

// Verify runs an integrity check over [from, to]. Zero bounds mean the
// whole ledger. Requires an auditor token.
func (c *Client) Verify(ctx context.Context, from, to int64) (*Report, error) {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	var report Report
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", q, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Get returns the entry with sequence number seq. Requires an auditor token.
func (c *Client) Get(ctx context.Context, seq int64) (*Entry, error) {
	var entry Entry
	path := "/api/v1/audit/entries/" + strconv.FormatInt(seq, 10)
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ByActor lists entries recorded for actorID, newest first.
func (c *Client) ByActor(ctx context.Context, actorID string, f Filter) ([]Entry, error) {
	return c.list(ctx, "/api/v1/audit/actors/"+url.PathEscape(actorID)+"/entries", f)
}

// ByTarget lists entries recorded against targetID, newest first.
func (c *Client) ByTarget(ctx context.Context, targetID string, f Filter) ([]Entry, error) {
	return c.list(ctx, "/api/v1/audit/targets/"+url.PathEscape(targetID)+"/entries", f)
}

func (c *Client) list(ctx context.Context, path string, f Filter) ([]Entry, error) {
	var resp struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, path, f.values(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, reqBody, respBody any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", req.Method, req.URL.Path, ErrResponseTooLarge, c.maxResponseBytes)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var e struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Message, apiErr.Field = e.Error, e.Field
		}
		return nil, apiErr
	}
	return body, nil
}
