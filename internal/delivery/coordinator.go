// Package delivery drives an outbound message from submit to its confirmed
// or failed end state, and emits the typing signal for the composer.
package delivery

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNoConversation = errors.New("no conversation is open")
	ErrOffline        = errors.New("not connected")
	ErrSendInFlight   = errors.New("another send is still in flight")
)

// DefaultTypingDebounce is how long the composer may sit idle before a
// typing stop is sent.
const DefaultTypingDebounce = 2 * time.Second

// SendError describes a send that ended in failure. The optimistic entry has
// already been removed from the timeline.
type SendError struct {
	TempID chat.TempID
	Draft  chat.Draft
	Reason string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s failed: %s", e.TempID, e.Reason)
}

// Timeline is the part of the open conversation's timeline the coordinator
// writes to.
type Timeline interface {
	ConversationID() string
	PartnerID() string
	InsertOptimistic(d chat.Draft) (chat.TempID, error)
	ReconcileSuccess(tempID chat.TempID, serverID chat.MessageID) bool
	ReconcileFailure(tempID chat.TempID) bool
}

// Transmitter is the live connection as seen by the send path.
type Transmitter interface {
	Online() bool
	SendMessage(p conn.SendPayload) error
	Typing(p conn.TypingPayload) error
}

// Options tunes a Coordinator.
type Options struct {
	// AllowConcurrent lifts the single in-flight guard.
	AllowConcurrent bool
	// TypingDebounce defaults to DefaultTypingDebounce.
	TypingDebounce time.Duration
	// NewTempID defaults to a random UUID.
	NewTempID func() chat.TempID
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	timeline Timeline
	tx       Transmitter
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	userID   string
	inFlight map[chat.TempID]chat.Draft
	order    []chat.TempID

	typingMu   sync.Mutex
	typing     bool
	typingConv string
	typingGen  uint64
	timer      *time.Timer
}

// New creates a coordinator sending as userID.
func New(tl Timeline, tx Transmitter, userID string, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}
	if opts.NewTempID == nil {
		opts.NewTempID = func() chat.TempID { return chat.TempID(uuid.NewString()) }
	}
	return &Coordinator{
		timeline: tl,
		tx:       tx,
		logger:   logger,
		opts:     opts,
		userID:   userID,
		inFlight: make(map[chat.TempID]chat.Draft),
	}
}

// SetUser changes the sending user.
func (c *Coordinator) SetUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Send submits content to the open conversation. On success the message is
// in the timeline as pending and its tempId is returned; confirmation
// arrives later through Confirm or Fail.
func (c *Coordinator) Send(content string) (chat.TempID, error) {
	return c.send(c.timeline.ConversationID(), content)
}

// Resend submits content to conversationID, which must be the open
// conversation. It is used to retry journaled failures.
func (c *Coordinator) Resend(conversationID, content string) (chat.TempID, error) {
	if conversationID == "" || conversationID != c.timeline.ConversationID() {
		return "", ErrNoConversation
	}
	return c.send(conversationID, content)
}

func (c *Coordinator) send(conversationID, content string) (chat.TempID, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if conversationID == "" {
		return "", ErrNoConversation
	}
	if !c.tx.Online() {
		return "", ErrOffline
	}

	c.mu.Lock()
	if !c.opts.AllowConcurrent && len(c.inFlight) > 0 {
		c.mu.Unlock()
		return "", ErrSendInFlight
	}
	d := chat.Draft{
		TempID:         c.opts.NewTempID(),
		ConversationID: conversationID,
		SenderID:       c.userID,
		ReceiverID:     c.timeline.PartnerID(),
		Content:        content,
	}
	tempID, err := c.timeline.InsertOptimistic(d)
	if err != nil {
		c.mu.Unlock()
		return "", ErrNoConversation
	}
	d.TempID = tempID
	c.inFlight[tempID] = d
	c.order = append(c.order, tempID)
	c.mu.Unlock()

	c.logger.Debug("sending", zap.String("conversation_id", conversationID), zap.String("temp_id", string(tempID)))
	c.StopTyping()

	err = c.tx.SendMessage(conn.SendPayload{
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		Content:        d.Content,
		TempID:         tempID,
	})
	if err != nil {
		if failed := c.Fail(tempID, err.Error()); len(failed) == 1 {
			return tempID, failed[0]
		}
		return tempID, &SendError{TempID: tempID, Draft: d, Reason: err.Error()}
	}
	return tempID, nil
}

// Confirm settles tempID as persisted under serverID. It reports whether
// tempID was in flight.
func (c *Coordinator) Confirm(tempID chat.TempID, serverID chat.MessageID) bool {
	c.mu.Lock()
	_, ok := c.inFlight[tempID]
	c.removeLocked(tempID)
	c.mu.Unlock()

	c.timeline.ReconcileSuccess(tempID, serverID)
	if !ok {
		c.logger.Debug("confirmation for unknown send", zap.String("temp_id", string(tempID)))
	}
	return ok
}

// Fail settles tempID as failed. An empty tempID refers to whatever is in
// flight, since the server may omit it from message-error. The failed
// sends are returned.
func (c *Coordinator) Fail(tempID chat.TempID, reason string) []*SendError {
	c.mu.Lock()
	var ids []chat.TempID
	switch {
	case tempID != "":
		if _, ok := c.inFlight[tempID]; ok {
			ids = []chat.TempID{tempID}
		}
	default:
		ids = append(ids, c.order...)
	}
	failed := c.takeLocked(ids, reason)
	c.mu.Unlock()

	if tempID != "" && len(failed) == 0 {
		c.timeline.ReconcileFailure(tempID)
		c.logger.Debug("failure for unknown send", zap.String("temp_id", string(tempID)))
	}
	for _, f := range failed {
		c.timeline.ReconcileFailure(f.TempID)
		c.logger.Warn("send failed", zap.String("temp_id", string(f.TempID)), zap.String("reason", reason))
	}
	return failed
}

// FailAll settles every outstanding send as failed, as happens when the
// connection is lost.
func (c *Coordinator) FailAll(reason string) []*SendError {
	return c.Fail("", reason)
}

// Idle reports whether no send is outstanding.
func (c *Coordinator) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight) == 0
}

// InFlight returns the outstanding drafts in submit order.
func (c *Coordinator) InFlight() []chat.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Draft, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.inFlight[id])
	}
	return out
}

func (c *Coordinator) takeLocked(ids []chat.TempID, reason string) []*SendError {
	var out []*SendError
	for _, id := range ids {
		d, ok := c.inFlight[id]
		if !ok {
			continue
		}
		c.removeLocked(id)
		out = append(out, &SendError{TempID: id, Draft: d, Reason: reason})
	}
	return out
}

func (c *Coordinator) removeLocked(tempID chat.TempID) {
	delete(c.inFlight, tempID)
	for i, id := range c.order {
		if id == tempID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
