package messenger

import (
	"context"
	"errors"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/conn"
	"go.uber.org/zap"
)

func (m *Messenger) dispatch(ctx context.Context, evt chat.Event) {
	switch e := evt.(type) {
	case chat.MessageReceived:
		m.onMessage(ctx, e.Message, e.EchoOf)
	case chat.SendConfirmed:
		m.onMessage(ctx, e.Message, e.TempID)
	case chat.SendFailed:
		m.reportFailures(ctx, m.delivery.Fail(e.TempID, e.Reason))
	case chat.PresenceChanged:
		if m.presence.SetStatus(e.UserID, e.Status) {
			m.bus.Emit(KindPresenceUpdated, e)
		}
	case chat.TypingChanged:
		m.presence.SetTyping(e.UserID, e.ConversationID, e.IsTyping)
		m.bus.Emit(KindTypingUpdated, e)
	case chat.ReadReceipt:
		if m.conversations.ApplyReadReceipt(e.UserID) {
			m.bus.Emit(KindConversationsUpdated, nil)
		}
		if m.timeline.MarkReadLocally(e.UserID, time.Now()) > 0 {
			m.emitTimeline()
		}
	case chat.Connected:
		m.onConnected(ctx, e)
	case chat.Disconnected:
		m.onDisconnected(ctx, e)
	default:
		m.logger.Debug("unhandled event", zap.String("event", evt.Kind()))
	}
}

// onMessage handles both a broadcast message and the server's confirmation
// of a local send. echoOf is the tempId the server tied to it, if any.
func (m *Messenger) onMessage(ctx context.Context, msg chat.Message, echoOf chat.TempID) {
	if echoOf != "" {
		if id, ok := msg.ID(); ok && m.delivery.Confirm(echoOf, id) {
			m.bus.Emit(KindDeliveryConfirmed, msg)
		}
	}

	if m.conversations.ApplyIncomingMessage(msg) {
		m.bus.Emit(KindConversationsUpdated, msg.ConversationID)
	} else {
		m.logger.Debug("message for unknown conversation", zap.String("conversation_id", msg.ConversationID))
	}

	if !m.timeline.AppendLive(msg, echoOf) {
		return
	}
	m.emitTimeline()
	if msg.ReceiverID == m.cfg.UserID && msg.SenderID != m.cfg.UserID {
		m.markOpenRead()
	}
}

// markOpenRead is the local read action for the open conversation.
func (m *Messenger) markOpenRead() {
	conversationID := m.timeline.ConversationID()
	if conversationID == "" {
		return
	}
	if prev, ok := m.conversations.MarkRead(conversationID); ok && prev > 0 {
		m.bus.Emit(KindConversationsUpdated, conversationID)
	}
	err := m.conn.MarkRead(conn.MarkReadPayload{ConversationID: conversationID, UserID: m.cfg.UserID})
	if err != nil && !errors.Is(err, conn.ErrNotConnected) {
		m.logger.Warn("mark-read not sent", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (m *Messenger) onConnected(ctx context.Context, e chat.Connected) {
	if m.presence.SetStatus(e.UserID, chat.Online) {
		m.bus.Emit(KindPresenceUpdated, chat.PresenceChanged{UserID: e.UserID, Status: chat.Online})
	}

	conversationID := m.timeline.ConversationID()
	if conversationID != "" {
		if err := m.conn.JoinConversation(conversationID); err != nil {
			m.logger.Warn("rejoin failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		m.resync(ctx, conversationID, e.Reconnect)
	}()
}

// resync reloads what may have changed while the connection was down.
func (m *Messenger) resync(ctx context.Context, conversationID string, reloadTimeline bool) {
	if err := m.RefreshConversations(ctx); err != nil {
		m.logger.Warn("conversation snapshot failed", zap.Error(err))
	}
	if conversationID == "" || (!reloadTimeline && m.timeline.Loaded()) {
		return
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.timeline.ConversationID() != conversationID {
		return
	}
	if _, err := m.timeline.LoadInitial(ctx); err != nil {
		m.logger.Warn("timeline reload failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	m.emitTimeline()
}

func (m *Messenger) onDisconnected(ctx context.Context, e chat.Disconnected) {
	m.delivery.Close()
	m.failOutstanding(ctx, "connection lost")
	if m.presence.Reset() {
		m.bus.Emit(KindPresenceUpdated, nil)
	}
	if e.Err == nil {
		return
	}
	m.logger.Warn("connection dropped", zap.Error(e.Err))
	m.scheduleReconnect()
}
