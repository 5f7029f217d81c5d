// Package messenger wires the realtime messaging core together. It owns the
// single dispatch loop over the connection's event stream, the currently
// open conversation, and the reconnect schedule.
package messenger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/creativecareer/ccai/internal/conversations"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/presence"
	"github.com/creativecareer/ccai/internal/status"
	"github.com/creativecareer/ccai/internal/timeline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownConversation is returned when opening a conversation that
	// is not in the list.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrNotReady is returned by Resend when a retry cannot go out yet.
	ErrNotReady = errors.New("not ready to resend")
)

// Bus kinds published by the messenger.
const (
	KindConversationsUpdated = "conversations.updated"
	KindTimelineUpdated      = "timeline.updated"
	KindPresenceUpdated      = "presence.updated"
	KindTypingUpdated        = "typing.updated"
	KindDeliveryConfirmed    = "delivery.confirmed"
	KindDeliveryFailed       = "delivery.failed"
)

// Backend is the REST API.
type Backend interface {
	conversations.Fetcher
	timeline.PageFetcher
}

// Journal records sends that ended in failure.
type Journal interface {
	RecordFailure(ctx context.Context, f *delivery.SendError) error
}

// Config holds the messenger's tunables.
type Config struct {
	UserID               string
	PageSize             int
	TypingDebounce       time.Duration
	TypingExpiry         time.Duration
	ReconnectInterval    time.Duration
	AllowConcurrentSends bool
}

// Messenger is the session's messaging core.
type Messenger struct {
	cfg     Config
	conn    *conn.Manager
	bus     *bus.Bus
	journal Journal
	logger  *zap.Logger

	conversations *conversations.Store
	timeline      *timeline.Timeline
	presence      *presence.Tracker
	delivery      *delivery.Coordinator

	opMu      sync.Mutex
	reconnect chan struct{}
	refreshWG sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a messenger. b and journal may be nil.
func New(cfg Config, mgr *conn.Manager, api Backend, b *bus.Bus, journal Journal, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	tl := timeline.New(api, cfg.UserID, logger.Named("timeline"), timeline.Options{PageSize: cfg.PageSize})
	return &Messenger{
		cfg:           cfg,
		conn:          mgr,
		bus:           b,
		journal:       journal,
		logger:        logger,
		conversations: conversations.New(api, logger.Named("conversations")),
		timeline:      tl,
		presence:      presence.NewTracker(presence.WithTypingExpiry(cfg.TypingExpiry)),
		delivery: delivery.New(tl, mgr, cfg.UserID, logger.Named("delivery"), delivery.Options{
			AllowConcurrent: cfg.AllowConcurrentSends,
			TypingDebounce:  cfg.TypingDebounce,
		}),
		reconnect: make(chan struct{}, 1),
	}
}

// Start runs the dispatch loop and connects. A failed first connect is not
// fatal: the snapshot is still loaded over REST and reconnects are
// scheduled.
func (m *Messenger) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("messenger already started")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go m.run(loopCtx, done)

	if err := m.conn.Connect(ctx, m.cfg.UserID); err != nil {
		m.logger.Warn("initial connect failed", zap.Error(err))
		if _, err := m.conversations.LoadSnapshot(ctx, m.cfg.UserID); err != nil {
			m.logger.Warn("conversation snapshot failed", zap.Error(err))
		} else {
			m.bus.Emit(KindConversationsUpdated, nil)
		}
		m.scheduleReconnect()
	}
	return nil
}

// Stop disconnects, fails anything still in flight and waits for the loops
// to exit.
func (m *Messenger) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.refreshWG.Wait()
	m.conn.Disconnect()
	m.delivery.Close()
	m.failOutstanding(context.Background(), "session closed")
}

func (m *Messenger) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.dispatchLoop(gctx)
		return nil
	})
	g.Go(func() error {
		m.reconnectLoop(gctx)
		return nil
	})
	_ = g.Wait()
}

func (m *Messenger) dispatchLoop(ctx context.Context) {
	for {
		select {
		case evt := <-m.conn.Events():
			m.dispatch(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Messenger) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-m.reconnect:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-time.After(m.cfg.ReconnectInterval):
			case <-ctx.Done():
				return
			}
			if m.conn.Online() {
				break
			}
			err := m.conn.Connect(ctx, m.cfg.UserID)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Info("reconnect failed", zap.Duration("retry_in", m.cfg.ReconnectInterval), zap.Error(err))
		}
	}
}

func (m *Messenger) scheduleReconnect() {
	if m.cfg.ReconnectInterval <= 0 {
		return
	}
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// State returns the connection state.
func (m *Messenger) State() status.State {
	return m.conn.State()
}

// Online reports whether the live connection is open.
func (m *Messenger) Online() bool {
	return m.conn.Online()
}

// UserID returns the local user.
func (m *Messenger) UserID() string {
	return m.cfg.UserID
}

// Bus returns the notification bus.
func (m *Messenger) Bus() *bus.Bus {
	return m.bus
}

// Conversations returns the list, filtered by term when it is not empty.
func (m *Messenger) Conversations(term string) []chat.Conversation {
	if term == "" {
		return m.conversations.List()
	}
	return m.conversations.Filter(term)
}

// TotalUnread sums unread counts over all conversations.
func (m *Messenger) TotalUnread() int {
	return m.conversations.TotalUnread()
}

// RefreshConversations reloads the conversation snapshot.
func (m *Messenger) RefreshConversations(ctx context.Context) error {
	if _, err := m.conversations.LoadSnapshot(ctx, m.cfg.UserID); err != nil {
		return err
	}
	m.bus.Emit(KindConversationsUpdated, nil)
	return nil
}

// Presence returns userID's status and whether they are typing in the open
// conversation.
func (m *Messenger) Presence(userID string) (chat.Status, bool) {
	return m.presence.Status(userID), m.presence.IsTyping(userID, m.timeline.ConversationID())
}

// InFlight returns the sends awaiting confirmation.
func (m *Messenger) InFlight() []chat.Draft {
	return m.delivery.InFlight()
}

// Dropped reports how many bus notifications slow watchers missed.
func (m *Messenger) Dropped() uint64 {
	return m.bus.Dropped()
}

func (m *Messenger) emitTimeline() {
	m.bus.Emit(KindTimelineUpdated, m.timeline.ConversationID())
}

func (m *Messenger) failOutstanding(ctx context.Context, reason string) {
	m.reportFailures(ctx, m.delivery.FailAll(reason))
}

func (m *Messenger) reportFailures(ctx context.Context, failed []*delivery.SendError) {
	if len(failed) == 0 {
		return
	}
	for _, f := range failed {
		if m.journal != nil {
			if err := m.journal.RecordFailure(ctx, f); err != nil {
				m.logger.Error("journal failed send", zap.String("temp_id", string(f.TempID)), zap.Error(err))
			}
		}
		m.bus.Emit(KindDeliveryFailed, f)
	}
	m.emitTimeline()
}
