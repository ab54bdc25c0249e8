// Package httpstore is a remote.Store speaking JSON to the document server.
package httpstore

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

	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Ensure Client implements remote.Store at compile time.
var _ remote.Store = (*Client)(nil)

const (
	defaultUserAgent = "sbasync/1.0"
	defaultTimeout   = 15 * time.Second
)

// Client talks to the document server HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// transaction is the wire body of a write.
type transaction struct {
	Updates   *schema.Snapshot             `json:"updates"`
	Deletions map[schema.Category][]string `json:"deletions,omitempty"`
}

// New builds a client for the server at baseURL. A zero timeout uses the
// default.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}, nil
}

// ReadDocument implements remote.Store.
func (c *Client) ReadDocument(ctx context.Context, docID string, fields ...schema.Category) (*schema.Snapshot, error) {
	values := url.Values{}
	if len(fields) > 0 {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		values.Set("fields", strings.Join(names, ","))
	}
	rel := &url.URL{Path: "/api/schools/" + docID, RawQuery: values.Encode()}

	var snap schema.Snapshot
	err := c.do(ctx, http.MethodGet, rel, nil, &snap)
	if remote.CodeOf(err) == remote.CodeNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ReadSubcollection implements remote.Store.
func (c *Client) ReadSubcollection(ctx context.Context, docID string, cat schema.Category) (*schema.Snapshot, error) {
	rel := &url.URL{Path: "/api/schools/" + docID + "/collections/" + string(cat)}
	var snap schema.Snapshot
	if err := c.do(ctx, http.MethodGet, rel, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ReadScoresForSubject reads one subject's score bucket.
func (c *Client) ReadScoresForSubject(ctx context.Context, docID string, subjectID int64) ([]schema.Score, error) {
	rel := &url.URL{Path: fmt.Sprintf("/api/schools/%s/scores/%d", docID, subjectID)}
	var snap schema.Snapshot
	if err := c.do(ctx, http.MethodGet, rel, nil, &snap); err != nil {
		return nil, err
	}
	return snap.Scores, nil
}

// WriteTransaction implements remote.Store.
func (c *Client) WriteTransaction(ctx context.Context, docID string, updates *schema.Snapshot, deletions map[schema.Category][]string) error {
	body, err := json.Marshal(transaction{Updates: updates, Deletions: deletions})
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	rel := &url.URL{Path: "/api/schools/" + docID + "/transaction"}
	return c.do(ctx, http.MethodPost, rel, body, nil)
}

// Ping implements remote.Store.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, &url.URL{Path: "/health"}, nil, nil)
}

func (c *Client) do(ctx context.Context, method string, rel *url.URL, body []byte, dest any) error {
	reqURL := *c.baseURL
	reqURL.Path = c.baseURL.Path + rel.Path
	reqURL.RawQuery = rel.RawQuery

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError reads a {code, message} body, falling back to the status.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var re remote.Error
	if err := json.Unmarshal(raw, &re); err == nil && re.Code != "" {
		return &re
	}
	return &remote.Error{
		Code:    remote.CodeForStatus(resp.StatusCode),
		Message: fmt.Sprintf("server returned status %d", resp.StatusCode),
	}
}

// classifyTransport maps a failed round trip to a transient remote error.
func classifyTransport(err error) error {
	code := remote.CodeUnavailable
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		code = remote.CodeDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		code = remote.CodeAborted
	}
	return &remote.Error{Code: code, Message: "request failed", Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("remote url required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}
