// Package timeline holds the message list of the one open conversation.
//
// Entries are kept in ascending timestamp order at all times. Optimistic
// sends live in the same list as server records and are reconciled by
// tempId, so the echo of a local send replaces its provisional entry
// instead of appearing twice.
package timeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/creativecareer/ccai/internal/backend"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotOpen is returned when an operation names a conversation other than
// the open one, or none is open.
var ErrNotOpen = errors.New("conversation is not open")

// PageFetcher loads history pages. backend.Client satisfies it.
type PageFetcher interface {
	Messages(ctx context.Context, req backend.PageRequest) (backend.Page, error)
}

// Options tunes a Timeline.
type Options struct {
	PageSize int
	// Now stamps optimistic entries. Defaults to time.Now.
	Now func() time.Time
}

// Timeline is safe for concurrent use, though only the owner of the open
// view is expected to mutate it.
type Timeline struct {
	fetcher  PageFetcher
	userID   string
	pageSize int
	now      func() time.Time
	logger   *zap.Logger

	mu             sync.Mutex
	gen            uint64
	conversationID string
	partnerID      string
	messages       []chat.Message
	hasMore        bool
	loaded         bool
}

// New creates an empty timeline for the local user.
func New(f PageFetcher, userID string, logger *zap.Logger, opts Options) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = backend.DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Timeline{
		fetcher:  f,
		userID:   userID,
		pageSize: opts.PageSize,
		now:      opts.Now,
		logger:   logger,
	}
}

// SetUser changes the local user. It does not touch loaded messages.
func (t *Timeline) SetUser(userID string) {
	t.mu.Lock()
	t.userID = userID
	t.mu.Unlock()
}

// Reset discards the current contents and makes conversationID the open
// conversation. An empty conversationID closes the timeline.
func (t *Timeline) Reset(conversationID, partnerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.conversationID = conversationID
	t.partnerID = partnerID
	t.messages = nil
	t.hasMore = false
	t.loaded = false
}

// LoadInitial fetches the newest page of the open conversation and replaces
// the loaded history with it. Live entries appended while the request was
// outstanding are kept. If the open conversation changes during the fetch
// the result is discarded.
func (t *Timeline) LoadInitial(ctx context.Context) ([]chat.Message, error) {
	t.mu.Lock()
	conversationID, userID, gen := t.conversationID, t.userID, t.gen
	t.mu.Unlock()
	if conversationID == "" {
		return nil, ErrNotOpen
	}

	page, err := t.fetcher.Messages(ctx, backend.PageRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Limit:          t.pageSize,
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		t.logger.Debug("discarding stale page", zap.String("conversation_id", conversationID))
		return nil, nil
	}

	live := t.messages
	t.messages = make([]chat.Message, 0, len(page.Messages)+len(live))
	for _, m := range sortedCopy(page.Messages) {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		t.upsertLocked(m, "")
	}
	for _, m := range live {
		t.upsertLocked(m, "")
	}
	t.hasMore = page.HasMore
	t.loaded = true
	return cloneMessages(t.messages), nil
}

// LoadOlder fetches the page before the oldest loaded message and prepends
// it. It returns the number of messages added. Without more history, or
// before anything is loaded, no request is made.
func (t *Timeline) LoadOlder(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.conversationID == "" {
		t.mu.Unlock()
		return 0, ErrNotOpen
	}
	if !t.hasMore || len(t.messages) == 0 {
		t.mu.Unlock()
		return 0, nil
	}
	req := backend.PageRequest{
		ConversationID: t.conversationID,
		UserID:         t.userID,
		Limit:          t.pageSize,
		Before:         t.messages[0].Timestamp,
	}
	gen := t.gen
	t.mu.Unlock()

	page, err := t.fetcher.Messages(ctx, req)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || len(t.messages) == 0 {
		return 0, nil
	}

	oldest := t.messages[0].Timestamp
	known := t.keysLocked()
	older := make([]chat.Message, 0, len(page.Messages))
	for _, m := range sortedCopy(page.Messages) {
		if !m.Timestamp.Before(oldest) {
			continue
		}
		if _, dup := known[m.Identity.Key()]; dup {
			continue
		}
		known[m.Identity.Key()] = struct{}{}
		older = append(older, m)
	}
	t.messages = append(older, t.messages...)
	t.hasMore = page.HasMore
	return len(older), nil
}

// AppendLive merges a message that arrived on the live channel. echoOf is
// the tempId the server echoed, if any; the matching optimistic entry is
// replaced rather than duplicated. Messages for other conversations are
// ignored and false is returned.
func (t *Timeline) AppendLive(m chat.Message, echoOf chat.TempID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" || m.ConversationID != t.conversationID {
		return false
	}
	t.upsertLocked(m, echoOf)
	return true
}

// InsertOptimistic appends a provisional entry for d and returns its
// tempId, generating one when d has none.
func (t *Timeline) InsertOptimistic(d chat.Draft) (chat.TempID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" || d.ConversationID != t.conversationID {
		return "", ErrNotOpen
	}
	if d.TempID == "" {
		d.TempID = NewTempID()
	}
	t.upsertLocked(chat.Message{
		Identity:       chat.Pending{TempID: d.TempID},
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		Content:        d.Content,
		Timestamp:      t.now(),
	}, "")
	return d.TempID, nil
}

// ReconcileSuccess gives the optimistic entry for tempID its server id. It
// reports false when no such entry exists, which happens after the timeline
// was reset or the echo already replaced it.
func (t *Timeline) ReconcileSuccess(tempID chat.TempID, serverID chat.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(chat.Pending{TempID: tempID})
	if i < 0 {
		t.logger.Debug("stale confirmation", zap.String("temp_id", string(tempID)))
		return false
	}
	if j := t.indexLocked(chat.Persisted{ID: serverID}); j >= 0 {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		return true
	}
	t.messages[i].Identity = chat.Persisted{ID: serverID}
	return true
}

// ReconcileFailure removes the optimistic entry for tempID. It reports
// false and leaves the timeline unchanged when there is none.
func (t *Timeline) ReconcileFailure(tempID chat.TempID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(chat.Pending{TempID: tempID})
	if i < 0 {
		t.logger.Debug("stale failure", zap.String("temp_id", string(tempID)))
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

// MarkReadLocally flips the read flag on every loaded message addressed to
// readerID, provided readerID is the open conversation's partner. It
// returns how many messages changed.
func (t *Timeline) MarkReadLocally(readerID string, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if readerID == "" || readerID != t.partnerID {
		return 0
	}
	n := 0
	for i := range t.messages {
		m := &t.messages[i]
		if m.ReceiverID == readerID && !m.Read {
			m.Read = true
			m.ReadAt = at
			n++
		}
	}
	return n
}

// ConversationID returns the open conversation, or "".
func (t *Timeline) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// PartnerID returns the other participant of the open conversation.
func (t *Timeline) PartnerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partnerID
}

// Messages returns a copy of the loaded messages in display order.
func (t *Timeline) Messages() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMessages(t.messages)
}

// HasMore reports whether older history exists on the server.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Loaded reports whether the first page has arrived.
func (t *Timeline) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// NewTempID returns a fresh tempId.
func NewTempID() chat.TempID {
	return chat.TempID(uuid.NewString())
}

// upsertLocked merges m into the list. An entry with the same server id is
// updated; otherwise the optimistic entry echoOf is replaced; otherwise m is
// inserted after every entry with a timestamp not later than its own.
func (t *Timeline) upsertLocked(m chat.Message, echoOf chat.TempID) {
	if m.Identity == nil {
		return
	}
	pending := -1
	if echoOf != "" {
		pending = t.indexLocked(chat.Pending{TempID: echoOf})
	}

	if i := t.indexLocked(m.Identity); i >= 0 {
		t.replaceLocked(i, m)
		if pending >= 0 {
			if j := t.indexLocked(chat.Pending{TempID: echoOf}); j >= 0 {
				t.messages = append(t.messages[:j], t.messages[j+1:]...)
			}
		}
		return
	}
	if pending >= 0 {
		t.replaceLocked(pending, m)
		return
	}
	t.insertSortedLocked(m)
}

// replaceLocked overwrites entry i, moving it only if its new timestamp
// breaks the ordering with its neighbours.
func (t *Timeline) replaceLocked(i int, m chat.Message) {
	prev := t.messages[i]
	if !m.Read && prev.Read {
		m.Read, m.ReadAt = prev.Read, prev.ReadAt
	}
	t.messages[i] = m
	inOrder := (i == 0 || !t.messages[i-1].Timestamp.After(m.Timestamp)) &&
		(i == len(t.messages)-1 || !m.Timestamp.After(t.messages[i+1].Timestamp))
	if inOrder {
		return
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	t.insertSortedLocked(m)
}

func (t *Timeline) insertSortedLocked(m chat.Message) {
	i := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].Timestamp.After(m.Timestamp)
	})
	t.messages = append(t.messages, chat.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
}

func (t *Timeline) indexLocked(id chat.Identity) int {
	key := id.Key()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Identity.Key() == key {
			return i
		}
	}
	return -1
}

func (t *Timeline) keysLocked() map[string]struct{} {
	keys := make(map[string]struct{}, len(t.messages))
	for _, m := range t.messages {
		keys[m.Identity.Key()] = struct{}{}
	}
	return keys
}

func sortedCopy(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Identity != nil {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func cloneMessages(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return nil
	}
	return append([]chat.Message(nil), msgs...)
}
