package chat

import (
	"strings"
	"time"
)

// Profile is the public profile of a conversation partner.
type Profile struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Profession string `json:"profession,omitempty"`
}

// LastMessage is the denormalized preview of a conversation's newest message.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Conversation summarizes a thread between the local user and one partner.
type Conversation struct {
	ID          string       `json:"conversationId"`
	Partner     Profile      `json:"partner"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Matches reports whether term occurs, case-insensitively, in the partner's
// display name or the last message content. An empty term matches everything.
func (c Conversation) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Partner.Name), term) {
		return true
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), term)
}

// Status is a user's presence as known to this client.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)
