// Package backend fetches conversation snapshots and message pages from the
// REST API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"go.uber.org/zap"
)

// DefaultPageSize is used when a page request does not set a limit.
const DefaultPageSize = 50

// FetchError reports a failed snapshot or page load.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is one page of a conversation's history in ascending timestamp order.
type Page struct {
	Messages []chat.Message
	HasMore  bool
}

// PageRequest selects a page. A zero Before means the newest page.
type PageRequest struct {
	ConversationID string
	UserID         string
	Limit          int
	Before         time.Time
}

// Client talks to the REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client. timeout of zero means requests never time out
// on their own; callers bound them with their context.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type conversationsResponse struct {
	Success       bool                `json:"success"`
	Conversations []chat.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Success  bool           `json:"success"`
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

// Conversations fetches the conversation list of userID.
func (c *Client) Conversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	const op = "load conversations"
	var resp conversationsResponse
	if err := c.get(ctx, op, "/conversations/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &FetchError{Op: op, Err: errUnsuccessful}
	}
	return resp.Conversations, nil
}

// Messages fetches one page of a conversation. Messages are returned in
// ascending timestamp order regardless of the order the server used.
func (c *Client) Messages(ctx context.Context, req PageRequest) (Page, error) {
	const op = "load messages"
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("userId", req.UserID)
	q.Set("limit", strconv.Itoa(limit))
	if !req.Before.IsZero() {
		q.Set("before", req.Before.UTC().Format(time.RFC3339Nano))
	}

	var resp messagesResponse
	if err := c.get(ctx, op, "/conversation/"+url.PathEscape(req.ConversationID), q, &resp); err != nil {
		return Page{}, err
	}
	if !resp.Success {
		return Page{}, &FetchError{Op: op, Err: errUnsuccessful}
	}
	msgs := resp.Messages
	if n := len(msgs); n > 1 && msgs[0].Timestamp.After(msgs[n-1].Timestamp) {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return Page{Messages: msgs, HasMore: resp.HasMore}, nil
}

var errUnsuccessful = errors.New("server reported success=false")

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("request failed", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return &FetchError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
