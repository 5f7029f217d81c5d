// Package presence mirrors the online status and typing state of other
// users as pushed by the server.
package presence

import (
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
)

// Tracker is a last-write-wins map of user status and typing flags.
type Tracker struct {
	expiry time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	status map[string]chat.Status
	typing map[string]typingState
}

type typingState struct {
	conversationID string
	since          time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTypingExpiry makes a typing flag read as false once it has not been
// refreshed for d. Zero keeps flags until an explicit stop.
func WithTypingExpiry(d time.Duration) Option {
	return func(t *Tracker) { t.expiry = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:    time.Now,
		status: make(map[string]chat.Status),
		typing: make(map[string]typingState),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetStatus records userID's status. It reports whether the value changed.
func (t *Tracker) SetStatus(userID string, s chat.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.status[userID]
	t.status[userID] = s
	if s == chat.Offline {
		delete(t.typing, userID)
	}
	return !ok || prev != s
}

// Status returns userID's last known status. Unknown users are offline.
func (t *Tracker) Status(userID string) chat.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.status[userID]; ok {
		return s
	}
	return chat.Offline
}

// SetTyping records whether userID is typing. conversationID may be empty
// when the server does not say.
func (t *Tracker) SetTyping(userID, conversationID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isTyping {
		delete(t.typing, userID)
		return
	}
	t.typing[userID] = typingState{conversationID: conversationID, since: t.now()}
}

// IsTyping reports whether userID is typing. When conversationID is not
// empty, a flag scoped to a different conversation does not count.
func (t *Tracker) IsTyping(userID, conversationID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.typing[userID]
	if !ok {
		return false
	}
	if conversationID != "" && st.conversationID != "" && st.conversationID != conversationID {
		return false
	}
	if t.expiry > 0 && t.now().Sub(st.since) >= t.expiry {
		return false
	}
	return true
}

// Reset forgets every status and typing flag. It reports whether there was
// anything to forget.
func (t *Tracker) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	had := len(t.status) > 0 || len(t.typing) > 0
	clear(t.status)
	clear(t.typing)
	return had
}
