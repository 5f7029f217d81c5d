package messenger

import (
	"context"
	"errors"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/timeline"
	"go.uber.org/zap"
)

// OpenConversation makes id the open conversation: it leaves the previous
// room, joins the new one, marks it read and loads its newest page. The
// conversation stays open when the page load fails.
func (m *Messenger) OpenConversation(ctx context.Context, id string) ([]chat.Message, error) {
	c, ok := m.conversations.Get(id)
	if !ok {
		return nil, ErrUnknownConversation
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if prev := m.timeline.ConversationID(); prev != "" && prev != id {
		m.leave(prev)
	}
	m.timeline.Reset(id, c.Partner.ID)
	m.emitTimeline()
	if err := m.conn.JoinConversation(id); err != nil {
		m.logSendErr("join-conversation", id, err)
	}
	m.markOpenRead()

	msgs, err := m.timeline.LoadInitial(ctx)
	if err != nil {
		m.logger.Warn("load messages failed", zap.String("conversation_id", id), zap.Error(err))
		return nil, err
	}
	m.emitTimeline()
	return msgs, nil
}

// CloseConversation leaves the open conversation, if any.
func (m *Messenger) CloseConversation() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	prev := m.timeline.ConversationID()
	if prev == "" {
		return
	}
	m.leave(prev)
	m.timeline.Reset("", "")
	m.emitTimeline()
}

func (m *Messenger) leave(conversationID string) {
	m.delivery.StopTyping()
	if err := m.conn.LeaveConversation(conversationID); err != nil {
		m.logSendErr("leave-conversation", conversationID, err)
	}
}

// OpenConversationID returns the open conversation, or "".
func (m *Messenger) OpenConversationID() string {
	return m.timeline.ConversationID()
}

// LoadOlder prepends the page before the oldest loaded message and returns
// how many messages were added.
func (m *Messenger) LoadOlder(ctx context.Context) (int, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	n, err := m.timeline.LoadOlder(ctx)
	if err != nil {
		if errors.Is(err, timeline.ErrNotOpen) {
			return 0, delivery.ErrNoConversation
		}
		return 0, err
	}
	if n > 0 {
		m.emitTimeline()
	}
	return n, nil
}

// Timeline returns the open conversation's messages and whether older ones
// exist.
func (m *Messenger) Timeline() ([]chat.Message, bool) {
	return m.timeline.Messages(), m.timeline.HasMore()
}

// Entries returns the open conversation's messages with day separators.
func (m *Messenger) Entries(loc *time.Location) []timeline.Entry {
	return timeline.WithDaySeparators(m.timeline.Messages(), loc)
}

// Send submits content to the open conversation.
func (m *Messenger) Send(content string) (chat.TempID, error) {
	tempID, err := m.delivery.Send(content)
	m.afterSend(err)
	return tempID, err
}

// Resend retries a journaled failure. It only proceeds when conversationID
// is open, the connection is up and nothing else is in flight.
func (m *Messenger) Resend(conversationID, content string) (chat.TempID, error) {
	if !m.ReadyFor(conversationID) {
		return "", ErrNotReady
	}
	tempID, err := m.delivery.Resend(conversationID, content)
	m.afterSend(err)
	return tempID, err
}

// ReadyFor reports whether a retry for conversationID could be sent now.
func (m *Messenger) ReadyFor(conversationID string) bool {
	return conversationID != "" &&
		m.timeline.ConversationID() == conversationID &&
		m.conn.Online() &&
		m.delivery.Idle()
}

func (m *Messenger) afterSend(err error) {
	var se *delivery.SendError
	switch {
	case err == nil:
		m.emitTimeline()
	case errors.As(err, &se):
		m.reportFailures(context.Background(), []*delivery.SendError{se})
	}
}

// NotifyTyping reports a composer change.
func (m *Messenger) NotifyTyping() {
	m.delivery.Typing()
}

func (m *Messenger) logSendErr(event, conversationID string, err error) {
	if errors.Is(err, conn.ErrNotConnected) {
		m.logger.Debug(event+" skipped while offline", zap.String("conversation_id", conversationID))
		return
	}
	m.logger.Warn(event+" not sent", zap.String("conversation_id", conversationID), zap.Error(err))
}
