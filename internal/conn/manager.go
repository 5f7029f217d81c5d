// Package conn owns the single live connection of a signed-in session and
// turns inbound frames into a typed event stream.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotConnected is returned by Send when there is no open channel.
var ErrNotConnected = errors.New("not connected")

// Options tunes a Manager.
type Options struct {
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	// EventBuffer is the capacity of the inbound event stream.
	EventBuffer int
}

// Manager maintains at most one live channel. Connect and Disconnect are
// serialized; Send may be called from any goroutine.
type Manager struct {
	transport    Transport
	machine      *status.Machine
	logger       *zap.Logger
	pingInterval time.Duration
	events       chan chat.Event

	lifecycle sync.Mutex
	writeMu   sync.Mutex

	mu        sync.Mutex
	ch        Channel
	userID    string
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// NewManager creates a manager. machine may be shared with other watchers.
func NewManager(t Transport, machine *status.Machine, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Manager{
		transport:    t,
		machine:      machine,
		logger:       logger,
		pingInterval: opts.PingInterval,
		events:       make(chan chat.Event, opts.EventBuffer),
	}
}

// Events returns the inbound event stream. It is never closed and carries
// events from every channel this manager opens.
func (m *Manager) Events() <-chan chat.Event {
	return m.events
}

// State returns the connection lifecycle state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Online reports whether a channel is open.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// UserID returns the user of the most recent Connect.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Connect opens a channel for userID and announces presence. An existing
// channel is torn down first and reported as Disconnected with a nil error.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.teardown() {
		m.logger.Info("replacing open channel")
		m.notifyDisconnected()
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}

	ch, err := m.transport.Dial(ctx, userID)
	if err != nil {
		_ = m.machine.Transition(status.Offline)
		return fmt.Errorf("connect: %w", err)
	}

	online, err := NewFrame(EventUserOnline, userID)
	if err == nil {
		err = ch.Write(online)
	}
	if err != nil {
		_ = ch.Close()
		_ = m.machine.Transition(status.Offline)
		return fmt.Errorf("announce presence: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.ch = ch
	m.userID = userID
	m.cancel = cancel
	m.done = done
	reconnect := m.connected
	m.connected = true
	m.mu.Unlock()

	_ = m.machine.Transition(status.Online)
	m.logger.Info("connected", zap.String("user_id", userID), zap.Bool("reconnect", reconnect))
	m.emit(loopCtx, chat.Connected{UserID: userID, Reconnect: reconnect})

	go m.run(loopCtx, gen, ch, done)
	return nil
}

// Disconnect closes the channel. Outstanding consumers receive a
// Disconnected event with a nil error.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	wasOpen := m.teardown()
	if m.machine.Current() != status.Closed {
		_ = m.machine.Transition(status.Closed)
	}
	if wasOpen {
		m.logger.Info("disconnected")
		m.notifyDisconnected()
	}
}

func (m *Manager) notifyDisconnected() {
	select {
	case m.events <- chat.Disconnected{}:
	default:
		m.logger.Warn("event stream full, dropping disconnect notice")
	}
}

// Send transmits one event on the open channel.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	f, err := NewFrame(event, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	err = ch.Write(f)
	m.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// SendMessage transmits send-message.
func (m *Manager) SendMessage(p SendPayload) error {
	return m.Send(EventSendMessage, p)
}

// Typing transmits typing.
func (m *Manager) Typing(p TypingPayload) error {
	return m.Send(EventTyping, p)
}

// MarkRead transmits mark-read.
func (m *Manager) MarkRead(p MarkReadPayload) error {
	return m.Send(EventMarkRead, p)
}

// JoinConversation transmits join-conversation.
func (m *Manager) JoinConversation(conversationID string) error {
	return m.Send(EventJoinConversation, conversationID)
}

// LeaveConversation transmits leave-conversation.
func (m *Manager) LeaveConversation(conversationID string) error {
	return m.Send(EventLeaveConversation, conversationID)
}

// teardown closes the current channel and waits for its loops to exit.
// Callers hold m.lifecycle.
func (m *Manager) teardown() bool {
	m.mu.Lock()
	open := m.ch != nil
	cancel, done := m.cancel, m.done
	m.ch = nil
	m.cancel = nil
	m.done = nil
	m.gen++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return open
}

func (m *Manager) run(ctx context.Context, gen uint64, ch Channel, done chan struct{}) {
	defer close(done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.readLoop(gctx, ch)
	})
	if m.pingInterval > 0 {
		g.Go(func() error {
			return m.pingLoop(gctx, ch)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		_ = ch.Close()
		return nil
	})
	err := g.Wait()

	if ctx.Err() != nil {
		return
	}
	m.handleDrop(ctx, gen, err)
}

func (m *Manager) readLoop(ctx context.Context, ch Channel) error {
	for {
		f, err := ch.Read()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				m.logger.Warn("skipping malformed frame", zap.Error(err))
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		evt, err := DecodeEvent(f)
		if err != nil {
			m.logger.Warn("ignoring inbound frame", zap.String("event", f.Event), zap.Error(err))
			continue
		}
		if !m.emit(ctx, evt) {
			return nil
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context, ch Channel) error {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			err := ch.Ping()
			m.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handleDrop reports a transport loss as the local user going offline
// followed by Disconnected.
func (m *Manager) handleDrop(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.ch == nil {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	userID := m.userID
	m.mu.Unlock()

	if err == nil {
		err = errors.New("connection closed by server")
	}
	_ = m.machine.Transition(status.Offline)
	m.logger.Warn("connection lost", zap.String("user_id", userID), zap.Error(err))

	m.emit(ctx, chat.PresenceChanged{UserID: userID, Status: chat.Offline})
	m.emit(ctx, chat.Disconnected{Err: err})
}

func (m *Manager) emit(ctx context.Context, evt chat.Event) bool {
	select {
	case m.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
