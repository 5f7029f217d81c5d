package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is one open bidirectional connection to the server.
// Write and Ping are never called concurrently by the Manager.
type Channel interface {
	Read() (Frame, error)
	Write(Frame) error
	Ping() error
	Close() error
}

// Transport opens channels.
type Transport interface {
	Dial(ctx context.Context, userID string) (Channel, error)
}

// WebSocketTransport dials the realtime endpoint with gorilla/websocket.
type WebSocketTransport struct {
	URL          string
	Token        string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// Dial connects to URL with the user id as a query parameter.
func (t *WebSocketTransport) Dial(ctx context.Context, userID string) (Channel, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}

	timeout := t.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &wsChannel{ws: ws, writeTimeout: timeout}, nil
}

type wsChannel struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsChannel) Read() (Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

func (c *wsChannel) Write(f Frame) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *wsChannel) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsChannel) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
