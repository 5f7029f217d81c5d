package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/store"
	"github.com/creativecareer/ccai/internal/tui/ui"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ErrNothingOpen is returned by thread operations when no conversation is
// open.
var ErrNothingOpen = errors.New("no conversation open")

// Client is the daemon surface the view model needs.
type Client interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	Conversations(ctx context.Context, filter string, refresh bool) (*api.ListConversationsResponse, error)
	Open(ctx context.Context, id string) (*api.TimelineResponse, error)
	CloseConversation(ctx context.Context) error
	LoadOlder(ctx context.Context) (*api.LoadOlderResponse, error)
	Timeline(ctx context.Context, location string) (*api.TimelineResponse, error)
	Send(ctx context.Context, content string) (string, error)
	NotifyTyping(ctx context.Context) error
	FailedSends(ctx context.Context, statuses ...string) ([]api.FailedSend, error)
	Retry(ctx context.Context, tempID string) error
}

// Change tells the UI which parts to redraw.
type Change int

const (
	ChangeStatus Change = 1 << iota
	ChangeConversations
	ChangeTimeline
)

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client        Client
	status        *api.StatusResponse
	conversations []chat.Conversation
	totalUnread   int
	filter        string
	timeline      *api.TimelineResponse
	openID        string

	Flash *ui.FlashModel

	refreshCh chan struct{}
	pending   Change
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c Client) *ViewModel {
	return &ViewModel{
		client:    c,
		Flash:     ui.NewFlashModel(),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh signals that the UI should call Changes and redraw.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

// Changes returns and clears the accumulated changes.
func (vm *ViewModel) Changes() Change {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	c := vm.pending
	vm.pending = 0
	return c
}

// signalRefresh must be called with vm.mu held.
func (vm *ViewModel) signalRefresh(c Change) {
	vm.pending |= c
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the session status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.status = resp
	vm.totalUnread = resp.TotalUnread
	if resp.OpenConversation == "" && vm.openID != "" {
		vm.openID = ""
		vm.timeline = nil
		vm.signalRefresh(ChangeTimeline)
	}
	vm.signalRefresh(ChangeStatus)
	return nil
}

// LoadConversations fetches the conversation list under the current filter.
// refresh asks the daemon to reload its snapshot first.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) error {
	filter := vm.Filter()
	resp, err := vm.client.Conversations(ctx, filter, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.filter != filter {
		return nil
	}
	vm.conversations = resp.Conversations
	vm.totalUnread = resp.TotalUnread
	vm.signalRefresh(ChangeConversations)
	return nil
}

// SetFilter changes the filter and reloads the list.
func (vm *ViewModel) SetFilter(ctx context.Context, filter string) error {
	vm.mu.Lock()
	vm.filter = strings.TrimSpace(filter)
	vm.mu.Unlock()
	return vm.LoadConversations(ctx, false)
}

// Open opens a conversation and caches its thread.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	tl, err := vm.client.Open(ctx, id)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.openID = id
	vm.timeline = tl
	for i := range vm.conversations {
		if vm.conversations[i].ID == id {
			vm.totalUnread -= vm.conversations[i].UnreadCount
			vm.conversations[i].UnreadCount = 0
		}
	}
	vm.signalRefresh(ChangeTimeline | ChangeConversations)
	return nil
}

// Close closes the open conversation.
func (vm *ViewModel) Close(ctx context.Context) error {
	if err := vm.client.CloseConversation(ctx); err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.openID = ""
	vm.timeline = nil
	vm.signalRefresh(ChangeTimeline)
	return nil
}

// ReloadTimeline refetches the open thread. It is a no-op when nothing is
// open; if the daemon has closed the conversation the cache is dropped.
func (vm *ViewModel) ReloadTimeline(ctx context.Context) error {
	if vm.OpenID() == "" {
		return nil
	}
	tl, err := vm.client.Timeline(ctx, "")
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.openID == "" {
		return nil
	}
	if tl.ConversationID != vm.openID {
		vm.openID = tl.ConversationID
		if tl.ConversationID == "" {
			tl = nil
		}
	}
	vm.timeline = tl
	vm.signalRefresh(ChangeTimeline)
	return nil
}

// LoadOlder prepends the previous page and returns how many messages were
// added.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	if vm.OpenID() == "" {
		return 0, ErrNothingOpen
	}
	resp, err := vm.client.LoadOlder(ctx)
	if err != nil {
		return 0, err
	}
	if resp.Added > 0 || !resp.HasMore {
		if err := vm.ReloadTimeline(ctx); err != nil {
			return resp.Added, err
		}
	}
	return resp.Added, nil
}

// Send submits composer text to the open conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	if vm.OpenID() == "" {
		return ErrNothingOpen
	}
	if _, err := vm.client.Send(ctx, text); err != nil {
		return err
	}
	return vm.ReloadTimeline(ctx)
}

// Typing reports a composer edit.
func (vm *ViewModel) Typing(ctx context.Context) error {
	if vm.OpenID() == "" {
		return nil
	}
	return vm.client.NotifyTyping(ctx)
}

// Retry queues a journaled failed send for resending. An empty tempID
// retries every send still in the failed state. It returns how many were
// queued.
func (vm *ViewModel) Retry(ctx context.Context, tempID string) (int, error) {
	if tempID != "" {
		if err := vm.client.Retry(ctx, tempID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	sends, err := vm.client.FailedSends(ctx, store.StatusFailed)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range sends {
		if err := vm.client.Retry(ctx, s.TempID); err != nil {
			return n, fmt.Errorf("retry %s: %w", s.TempID, err)
		}
		n++
	}
	return n, nil
}

// HandleEvent refreshes whatever a daemon event invalidates.
func (vm *ViewModel) HandleEvent(ctx context.Context, evt *api.Event) error {
	switch {
	case strings.HasPrefix(evt.Kind, "conn."):
		if err := vm.LoadStatus(ctx); err != nil {
			return err
		}
		return vm.ReloadTimeline(ctx)
	case evt.Kind == "conversations.updated":
		return vm.LoadConversations(ctx, false)
	case evt.Kind == "delivery.failed":
		vm.Flash.Warn("Message not sent (:retry to resend)")
		return vm.ReloadTimeline(ctx)
	case evt.Kind == "delivery.resent":
		vm.Flash.Info("Failed message resent")
		return vm.ReloadTimeline(ctx)
	case strings.HasPrefix(evt.Kind, "timeline."),
		strings.HasPrefix(evt.Kind, "typing."),
		strings.HasPrefix(evt.Kind, "presence."),
		strings.HasPrefix(evt.Kind, "delivery."):
		return vm.ReloadTimeline(ctx)
	}
	return nil
}

// Describe turns a daemon error into a message for the flash bar.
func Describe(err error) string {
	if errors.Is(err, ErrNothingOpen) {
		return "No conversation open"
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err.Error()
	}
	switch st.Code() {
	case codes.Unavailable:
		return "Offline: " + st.Message()
	case codes.Aborted:
		return "Still sending the previous message"
	case codes.DeadlineExceeded:
		return "Daemon did not answer in time"
	default:
		return st.Message()
	}
}

// Status returns the last fetched session status.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []chat.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]chat.Conversation(nil), vm.conversations...)
}

// TotalUnread returns the unread count across all conversations.
func (vm *ViewModel) TotalUnread() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.totalUnread
}

// Filter returns the active filter.
func (vm *ViewModel) Filter() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.filter
}

// Timeline returns the cached thread of the open conversation, or nil.
func (vm *ViewModel) Timeline() *api.TimelineResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.timeline
}

// OpenID returns the open conversation id.
func (vm *ViewModel) OpenID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.openID
}

// Partner returns the partner of the open conversation.
func (vm *ViewModel) Partner() (chat.Profile, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == vm.openID {
			return c.Partner, true
		}
	}
	return chat.Profile{}, false
}
