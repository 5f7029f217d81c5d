package conn

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/creativecareer/ccai/internal/chat"
)

// Live channel event names.
const (
	EventUserOnline        = "user-online"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventMarkRead          = "mark-read"
	EventReceiveMessage    = "receive-message"
	EventMessageSent       = "message-sent"
	EventMessageError      = "message-error"
	EventUserStatusChanged = "user-status-changed"
	EventUserTyping        = "user-typing"
	EventMessagesRead      = "messages-read"
)

var (
	// ErrMalformedFrame marks a frame that could not be decoded. The
	// connection stays usable.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEvent is returned for inbound events this client does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Frame is one message on the live channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload as the frame's data.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// SendPayload is the body of send-message.
type SendPayload struct {
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	TempID         chat.TempID `json:"tempId"`
}

// TypingPayload is the body of typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkReadPayload is the body of mark-read.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type messageErrorPayload struct {
	Error  string      `json:"error"`
	TempID chat.TempID `json:"tempId,omitempty"`
}

type statusPayload struct {
	UserID string      `json:"userId"`
	Status chat.Status `json:"status"`
}

type userTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

type messagesReadPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// DecodeEvent turns an inbound frame into a typed event.
func DecodeEvent(f Frame) (chat.Event, error) {
	switch f.Event {
	case EventReceiveMessage:
		var w chat.WireMessage
		if err := unmarshal(f, &w); err != nil {
			return nil, err
		}
		m, err := w.Message()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Event, err)
		}
		evt := chat.MessageReceived{Message: m}
		if w.ID != "" {
			evt.EchoOf = w.TempID
		}
		return evt, nil
	case EventMessageSent:
		var w chat.WireMessage
		if err := unmarshal(f, &w); err != nil {
			return nil, err
		}
		if w.ID == "" || w.TempID == "" {
			return nil, fmt.Errorf("%s: %w: needs _id and tempId", f.Event, ErrMalformedFrame)
		}
		m, err := w.Message()
		if err != nil {
			return nil, err
		}
		return chat.SendConfirmed{TempID: w.TempID, Message: m}, nil
	case EventMessageError:
		var p messageErrorPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return chat.SendFailed{TempID: p.TempID, Reason: p.Error}, nil
	case EventUserStatusChanged:
		var p statusPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.Status != chat.Online {
			p.Status = chat.Offline
		}
		return chat.PresenceChanged{UserID: p.UserID, Status: p.Status}, nil
	case EventUserTyping:
		var p userTypingPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return chat.TypingChanged{UserID: p.UserID, ConversationID: p.ConversationID, IsTyping: p.IsTyping}, nil
	case EventMessagesRead:
		var p messagesReadPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return chat.ReadReceipt{UserID: p.UserID, ConversationID: p.ConversationID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func unmarshal(f Frame, v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: %w: %v", f.Event, ErrMalformedFrame, err)
	}
	return nil
}
