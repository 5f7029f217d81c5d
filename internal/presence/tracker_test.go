package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStatusLastWriteWins(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, chat.Offline, tr.Status("u1"), "unknown reads as offline")

	assert.True(t, tr.SetStatus("u1", chat.Online))
	assert.False(t, tr.SetStatus("u1", chat.Online))
	assert.Equal(t, chat.Online, tr.Status("u1"))

	assert.True(t, tr.SetStatus("u1", chat.Offline))
	assert.Equal(t, chat.Offline, tr.Status("u1"))
}

func TestTypingWithoutExpiryNeedsExplicitStop(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(WithClock(clock.Now))

	tr.SetTyping("u2", "", true)
	clock.Advance(2500 * time.Millisecond)
	assert.True(t, tr.IsTyping("u2", ""), "no receiver-side timeout when expiry is disabled")

	tr.SetTyping("u2", "", false)
	assert.False(t, tr.IsTyping("u2", ""))
}

func TestTypingExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(WithClock(clock.Now), WithTypingExpiry(3*time.Second))

	tr.SetTyping("u2", "c1", true)
	clock.Advance(2 * time.Second)
	assert.True(t, tr.IsTyping("u2", "c1"))

	tr.SetTyping("u2", "c1", true)
	clock.Advance(2 * time.Second)
	assert.True(t, tr.IsTyping("u2", "c1"), "refresh restarts the expiry window")

	clock.Advance(time.Second)
	assert.False(t, tr.IsTyping("u2", "c1"))
}

func TestTypingScopedToConversation(t *testing.T) {
	tr := NewTracker()

	tr.SetTyping("u2", "c1", true)
	assert.True(t, tr.IsTyping("u2", "c1"))
	assert.False(t, tr.IsTyping("u2", "c2"))
	assert.True(t, tr.IsTyping("u2", ""))

	tr.SetTyping("u3", "", true)
	assert.True(t, tr.IsTyping("u3", "c2"), "unscoped flag applies to any conversation")
}

func TestOfflineClearsTyping(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("u2", "", true)
	tr.SetStatus("u2", chat.Offline)
	assert.False(t, tr.IsTyping("u2", ""))
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Reset(), "nothing to forget")

	tr.SetStatus("a", chat.Online)
	tr.SetTyping("a", "c1", true)
	assert.True(t, tr.Reset())
	assert.Equal(t, chat.Offline, tr.Status("a"))
	assert.False(t, tr.IsTyping("a", ""))

	tr.SetTyping("b", "", true)
	assert.True(t, tr.Reset(), "a lone typing flag still counts")
}
