// Package chat holds the messaging data model shared by the realtime core:
// conversations, messages with their pending/persisted identity, and the
// typed inbound event stream.
package chat

import (
	"encoding/json"
	"errors"
	"time"
)

// TempID identifies a message that was sent by this client and has not been
// confirmed by the server yet.
type TempID string

// MessageID is the server-assigned identifier of a persisted message.
type MessageID string

// Identity is either Pending or Persisted. A message always has exactly one.
type Identity interface {
	isIdentity()
	// Key returns a string that is unique within a timeline.
	Key() string
}

// Pending is the identity of an optimistic message.
type Pending struct {
	TempID TempID
}

// Persisted is the identity of a server-confirmed message.
type Persisted struct {
	ID MessageID
}

func (Pending) isIdentity()   {}
func (Persisted) isIdentity() {}

func (p Pending) Key() string   { return "tmp:" + string(p.TempID) }
func (p Persisted) Key() string { return "id:" + string(p.ID) }

// ErrNoIdentity is returned when decoding a message that carries neither
// an _id nor a tempId.
var ErrNoIdentity = errors.New("message has neither _id nor tempId")

// Message is a single chat message.
type Message struct {
	Identity       Identity
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Timestamp      time.Time
	Read           bool
	ReadAt         time.Time
}

// IsPending reports whether the message is still awaiting confirmation.
func (m Message) IsPending() bool {
	_, ok := m.Identity.(Pending)
	return ok
}

// TempID returns the temporary id of a pending message.
func (m Message) TempID() (TempID, bool) {
	p, ok := m.Identity.(Pending)
	return p.TempID, ok
}

// ID returns the server id of a persisted message.
func (m Message) ID() (MessageID, bool) {
	p, ok := m.Identity.(Persisted)
	return p.ID, ok
}

// WireMessage is the JSON shape used by the REST API and the live channel.
// The server may send both _id and tempId when it echoes a client's own send.
type WireMessage struct {
	ID             MessageID  `json:"_id,omitempty"`
	TempID         TempID     `json:"tempId,omitempty"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

// Message converts the wire form into a Message. A server id wins over a
// temp id.
func (w WireMessage) Message() (Message, error) {
	m := Message{
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		ReceiverID:     w.ReceiverID,
		Content:        w.Content,
		Timestamp:      w.Timestamp,
		Read:           w.Read,
	}
	if w.ReadAt != nil {
		m.ReadAt = *w.ReadAt
	}
	switch {
	case w.ID != "":
		m.Identity = Persisted{ID: w.ID}
	case w.TempID != "":
		m.Identity = Pending{TempID: w.TempID}
	default:
		return Message{}, ErrNoIdentity
	}
	return m, nil
}

// Wire converts m into its JSON shape.
func (m Message) Wire() WireMessage {
	w := WireMessage{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
	}
	if !m.ReadAt.IsZero() {
		readAt := m.ReadAt
		w.ReadAt = &readAt
	}
	switch id := m.Identity.(type) {
	case Persisted:
		w.ID = id.ID
	case Pending:
		w.TempID = id.TempID
	}
	return w
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.Message()
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// Draft is the content of an outbound message before it enters the timeline.
type Draft struct {
	TempID         TempID
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
}
