// Package conntest provides an in-memory conn.Transport for tests.
package conntest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/creativecareer/ccai/internal/conn"
)

// ErrDropped is what Read returns after Drop.
var ErrDropped = errors.New("conntest: connection dropped")

// Transport hands out Channels and records every dial.
type Transport struct {
	mu       sync.Mutex
	DialErr  error
	channels []*Channel
	users    []string
	dialed   chan *Channel
}

// NewTransport creates a fake transport.
func NewTransport() *Transport {
	return &Transport{dialed: make(chan *Channel, 16)}
}

// Dial implements conn.Transport.
func (t *Transport) Dial(_ context.Context, userID string) (conn.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = append(t.users, userID)
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	ch := newChannel()
	t.channels = append(t.channels, ch)
	select {
	case t.dialed <- ch:
	default:
	}
	return ch, nil
}

// Dialed delivers each channel as it is opened.
func (t *Transport) Dialed() <-chan *Channel {
	return t.dialed
}

// SetDialErr makes subsequent dials fail with err (nil to succeed).
func (t *Transport) SetDialErr(err error) {
	t.mu.Lock()
	t.DialErr = err
	t.mu.Unlock()
}

// Dials returns the user ids of every Dial call.
func (t *Transport) Dials() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.users...)
}

// Last returns the most recently opened channel, or nil.
func (t *Transport) Last() *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

// Channel is a scripted conn.Channel. Tests push server frames with Push
// and inspect client frames with Sent.
type Channel struct {
	in        chan conn.Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     []conn.Frame
	dropped  bool
	WriteErr error
	PingErr  error
	pings    int
}

func newChannel() *Channel {
	return &Channel{
		in:     make(chan conn.Frame, 64),
		closed: make(chan struct{}),
	}
}

// Read implements conn.Channel.
func (c *Channel) Read() (conn.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		c.mu.Lock()
		dropped := c.dropped
		c.mu.Unlock()
		if dropped {
			return conn.Frame{}, ErrDropped
		}
		return conn.Frame{}, errors.New("conntest: channel closed")
	}
}

// Write implements conn.Channel.
func (c *Channel) Write(f conn.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	select {
	case <-c.closed:
		return errors.New("conntest: write on closed channel")
	default:
	}
	c.sent = append(c.sent, f)
	return nil
}

// Ping implements conn.Channel.
func (c *Channel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.PingErr
}

// Close implements conn.Channel.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close or Drop has been called.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Drop simulates the server side vanishing.
func (c *Channel) Drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
	_ = c.Close()
}

// Push queues a server frame with payload encoded as JSON.
func (c *Channel) Push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.in <- conn.Frame{Event: event, Data: data}
}

// PushRaw queues a frame with raw data.
func (c *Channel) PushRaw(event string, data string) {
	c.in <- conn.Frame{Event: event, Data: json.RawMessage(data)}
}

// SetPingErr makes subsequent pings fail with err.
func (c *Channel) SetPingErr(err error) {
	c.mu.Lock()
	c.PingErr = err
	c.mu.Unlock()
}

// Pings returns how many pings were sent.
func (c *Channel) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Sent returns every frame the client wrote, optionally filtered by event.
func (c *Channel) Sent(event ...string) []conn.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(event) == 0 {
		return append([]conn.Frame(nil), c.sent...)
	}
	var out []conn.Frame
	for _, f := range c.sent {
		for _, e := range event {
			if f.Event == e {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
