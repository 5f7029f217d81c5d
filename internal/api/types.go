package api

import (
	"encoding/json"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/store"
)

// StatusResponse describes the running session.
type StatusResponse struct {
	Session          string `json:"session"`
	State            string `json:"state"`
	Online           bool   `json:"online"`
	UserID           string `json:"userId"`
	OpenConversation string `json:"openConversation,omitempty"`
	TotalUnread      int    `json:"totalUnread"`
	InFlight         int    `json:"inFlight"`
	Dropped          uint64 `json:"dropped"`
	UptimeMs         int64  `json:"uptimeMs"`
}

// ListConversationsRequest optionally filters by partner name or last message.
type ListConversationsRequest struct {
	Filter string `json:"filter,omitempty"`
	// Refresh reloads the snapshot from the server first.
	Refresh bool `json:"refresh,omitempty"`
}

// ListConversationsResponse is the sorted conversation list.
type ListConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
	TotalUnread   int                 `json:"totalUnread"`
}

// ConversationRequest names a conversation.
type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// TimelineEntry is a day separator or a message.
type TimelineEntry struct {
	Separator bool          `json:"separator,omitempty"`
	Day       string        `json:"day,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Pending   bool          `json:"pending,omitempty"`
}

// TimelineRequest selects the zone used to split days.
type TimelineRequest struct {
	Location string `json:"location,omitempty"`
}

// TimelineResponse is the open conversation's thread.
type TimelineResponse struct {
	ConversationID string          `json:"conversationId"`
	PartnerTyping  bool            `json:"partnerTyping"`
	PartnerStatus  chat.Status     `json:"partnerStatus,omitempty"`
	HasMore        bool            `json:"hasMore"`
	Entries        []TimelineEntry `json:"entries"`
}

// LoadOlderResponse reports how many messages were prepended.
type LoadOlderResponse struct {
	Added   int  `json:"added"`
	HasMore bool `json:"hasMore"`
}

// SendRequest carries composer content for the open conversation.
type SendRequest struct {
	Content string `json:"content"`
}

// SendResponse names the optimistic message.
type SendResponse struct {
	TempID chat.TempID `json:"tempId"`
}

// PresenceRequest names a user.
type PresenceRequest struct {
	UserID string `json:"userId"`
}

// PresenceResponse is a user's status and typing state in the open
// conversation.
type PresenceResponse struct {
	UserID string      `json:"userId"`
	Status chat.Status `json:"status"`
	Typing bool        `json:"typing"`
}

// FailedSendsRequest filters the journal by status.
type FailedSendsRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// FailedSend is a journal row.
type FailedSend struct {
	TempID         string    `json:"tempId"`
	ConversationID string    `json:"conversationId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	ResentTempID   string    `json:"resentTempId,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FailedSendsResponse lists journal rows, newest first.
type FailedSendsResponse struct {
	Sends []FailedSend `json:"sends"`
}

// RetryRequest queues a journaled failure for resend.
type RetryRequest struct {
	TempID string `json:"tempId"`
}

// WatchRequest selects bus kinds by prefix. No prefixes means every kind.
type WatchRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is one notification from the WatchEvents stream.
type Event struct {
	EventID    string          `json:"eventId"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func failedSendFromStore(f store.FailedSend) FailedSend {
	return FailedSend{
		TempID:         f.TempID,
		ConversationID: f.ConversationID,
		ReceiverID:     f.ReceiverID,
		Content:        f.Content,
		Reason:         f.Reason,
		Status:         f.Status,
		ResentTempID:   f.ResentTempID,
		Attempts:       f.Attempts,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}
