// Package conversations keeps the signed-in user's ranked conversation list.
package conversations

import (
	"context"
	"slices"
	"sync"

	"github.com/creativecareer/ccai/internal/chat"
	"go.uber.org/zap"
)

// Fetcher loads the server snapshot.
type Fetcher interface {
	Conversations(ctx context.Context, userID string) ([]chat.Conversation, error)
}

// Store is the in-memory conversation list, sorted by UpdatedAt descending.
// The whole list is re-sorted on every mutation; lists hold tens of entries.
type Store struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu          sync.RWMutex
	localUserID string
	list        []chat.Conversation
}

// New creates an empty store.
func New(f Fetcher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fetcher: f, logger: logger}
}

// LoadSnapshot replaces the list with the server's. On error the current
// list is kept and the *backend.FetchError is returned.
func (s *Store) LoadSnapshot(ctx context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.Lock()
	s.localUserID = userID
	s.mu.Unlock()

	convs, err := s.fetcher.Conversations(ctx, userID)
	if err != nil {
		s.logger.Warn("conversation snapshot failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.list = make([]chat.Conversation, len(convs))
	for i, c := range convs {
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		s.list[i] = clone(c)
	}
	s.sortLocked()
	out := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("conversations loaded", zap.Int("count", len(out)))
	return out, nil
}

// ApplyIncomingMessage folds a live message into its conversation. Messages
// for unknown conversations are ignored and reported as false.
func (s *Store) ApplyIncomingMessage(m chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(m.ConversationID)
	if i < 0 {
		s.logger.Debug("message for unknown conversation", zap.String("conversation_id", m.ConversationID))
		return false
	}
	c := &s.list[i]
	if !m.Timestamp.Before(c.UpdatedAt) {
		c.LastMessage = &chat.LastMessage{
			Content:   m.Content,
			SenderID:  m.SenderID,
			Timestamp: m.Timestamp,
			Read:      m.Read,
		}
		c.UpdatedAt = m.Timestamp
	}
	if m.ReceiverID == s.localUserID && m.SenderID != s.localUserID {
		c.UnreadCount++
	}
	s.sortLocked()
	return true
}

// MarkRead zeroes the unread count of a conversation after the local user
// has viewed it. It returns the previous count.
func (s *Store) MarkRead(conversationID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(conversationID)
	if i < 0 {
		return 0, false
	}
	prev := s.list[i].UnreadCount
	s.list[i].UnreadCount = 0
	return prev, true
}

// ApplyReadReceipt records that userID read what the local user sent them.
// Only the list preview's read flag changes; unread counts belong to the
// local user's own read action.
func (s *Store) ApplyReadReceipt(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.list {
		c := &s.list[i]
		if c.Partner.ID != userID || c.LastMessage == nil {
			continue
		}
		if c.LastMessage.SenderID == s.localUserID && !c.LastMessage.Read {
			c.LastMessage.Read = true
			changed = true
		}
	}
	return changed
}

// List returns a copy of the ranked list.
func (s *Store) List() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Filter returns the conversations whose partner name or last message
// contains term, case-insensitively. The backing list is not touched.
func (s *Store) Filter(term string) []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Conversation
	for _, c := range s.list {
		if c.Matches(term) {
			out = append(out, clone(c))
		}
	}
	return out
}

// Get returns one conversation by id.
func (s *Store) Get(conversationID string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(conversationID)
	if i < 0 {
		return chat.Conversation{}, false
	}
	return clone(s.list[i]), true
}

// TotalUnread sums unread counts across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.list {
		total += c.UnreadCount
	}
	return total
}

func (s *Store) indexLocked(conversationID string) int {
	return slices.IndexFunc(s.list, func(c chat.Conversation) bool {
		return c.ID == conversationID
	})
}

func (s *Store) sortLocked() {
	slices.SortStableFunc(s.list, func(a, b chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}

func (s *Store) snapshotLocked() []chat.Conversation {
	out := make([]chat.Conversation, len(s.list))
	for i, c := range s.list {
		out[i] = clone(c)
	}
	return out
}

func clone(c chat.Conversation) chat.Conversation {
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}
