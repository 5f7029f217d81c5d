package chat

// Event is an inbound event from the live connection. The concrete types
// below are the only implementations.
type Event interface {
	Kind() string
}

// MessageReceived is a message pushed by the server (receive-message).
// EchoOf is set when the server echoes the local user's own send.
type MessageReceived struct {
	Message Message
	EchoOf  TempID
}

// PresenceChanged reports a user going online or offline.
type PresenceChanged struct {
	UserID string
	Status Status
}

// TypingChanged reports a remote user's typing state.
type TypingChanged struct {
	UserID         string
	ConversationID string
	IsTyping       bool
}

// ReadReceipt reports that UserID has read the messages sent to them.
type ReadReceipt struct {
	UserID         string
	ConversationID string
}

// SendConfirmed is the server's acknowledgement of a send (message-sent).
type SendConfirmed struct {
	TempID  TempID
	Message Message
}

// SendFailed is an explicit send error (message-error). TempID may be empty.
type SendFailed struct {
	TempID TempID
	Reason string
}

// Connected is emitted after the channel is open and presence announced.
type Connected struct {
	UserID    string
	Reconnect bool
}

// Disconnected is emitted when the channel goes away. Err is nil when the
// local side closed it on purpose.
type Disconnected struct {
	Err error
}

func (MessageReceived) Kind() string { return "receive-message" }
func (PresenceChanged) Kind() string { return "user-status-changed" }
func (TypingChanged) Kind() string   { return "user-typing" }
func (ReadReceipt) Kind() string     { return "messages-read" }
func (SendConfirmed) Kind() string   { return "message-sent" }
func (SendFailed) Kind() string      { return "message-error" }
func (Connected) Kind() string       { return "connected" }
func (Disconnected) Kind() string    { return "disconnected" }
