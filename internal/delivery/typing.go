package delivery

import (
	"time"

	"github.com/creativecareer/ccai/internal/conn"
	"go.uber.org/zap"
)

// Typing records a change in the composer. The first change sends a typing
// start; a stop follows once the composer has been quiet for the debounce
// period. Every call pushes the stop further out.
func (c *Coordinator) Typing() {
	conversationID := c.timeline.ConversationID()
	if conversationID == "" || !c.tx.Online() {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if c.typing && c.typingConv != conversationID {
		c.emitTypingLocked(c.typingConv, false)
		c.typing = false
	}
	if !c.typing {
		c.typing = true
		c.typingConv = conversationID
		c.emitTypingLocked(conversationID, true)
	}

	c.typingGen++
	gen := c.typingGen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.TypingDebounce, func() {
		c.typingMu.Lock()
		defer c.typingMu.Unlock()
		if gen != c.typingGen || !c.typing {
			return
		}
		c.stopTypingLocked()
	})
}

// StopTyping sends a typing stop now if a start is outstanding.
func (c *Coordinator) StopTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if !c.typing {
		return
	}
	c.stopTypingLocked()
}

// Close cancels the pending typing stop without sending it.
func (c *Coordinator) Close() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	c.typingGen++
	c.typing = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) stopTypingLocked() {
	c.typingGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.typing = false
	c.emitTypingLocked(c.typingConv, false)
}

func (c *Coordinator) emitTypingLocked(conversationID string, isTyping bool) {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	err := c.tx.Typing(conn.TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		c.logger.Debug("typing signal not sent", zap.Bool("is_typing", isTyping), zap.Error(err))
	}
}
