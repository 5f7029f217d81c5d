package api_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/messenger"
	"github.com/creativecareer/ccai/internal/status"
	"github.com/creativecareer/ccai/internal/store"
	"github.com/creativecareer/ccai/internal/timeline"
	"github.com/creativecareer/ccai/internal/tui/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var day = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeMessenger struct {
	mu       sync.Mutex
	open     string
	msgs     []chat.Message
	sent     []string
	typing   int
	sendErr  error
	older    int
	olderErr error
	convs    []chat.Conversation
}

func (f *fakeMessenger) State() status.State { return status.Online }
func (f *fakeMessenger) Online() bool        { return true }
func (f *fakeMessenger) UserID() string      { return "me" }
func (f *fakeMessenger) TotalUnread() int    { return 3 }
func (f *fakeMessenger) Dropped() uint64     { return 0 }

func (f *fakeMessenger) Conversations(term string) []chat.Conversation {
	var out []chat.Conversation
	for _, c := range f.convs {
		if c.Matches(term) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeMessenger) RefreshConversations(context.Context) error { return nil }

func (f *fakeMessenger) OpenConversation(_ context.Context, id string) ([]chat.Message, error) {
	for _, c := range f.convs {
		if c.ID == id {
			f.mu.Lock()
			f.open = id
			f.mu.Unlock()
			return f.msgs, nil
		}
	}
	return nil, messenger.ErrUnknownConversation
}

func (f *fakeMessenger) CloseConversation() {
	f.mu.Lock()
	f.open = ""
	f.mu.Unlock()
}

func (f *fakeMessenger) OpenConversationID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeMessenger) LoadOlder(context.Context) (int, error) { return f.older, f.olderErr }

func (f *fakeMessenger) Timeline() ([]chat.Message, bool) { return f.msgs, true }

func (f *fakeMessenger) Entries(loc *time.Location) []timeline.Entry {
	return timeline.WithDaySeparators(f.msgs, loc)
}

func (f *fakeMessenger) Send(content string) (chat.TempID, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return "t1", nil
}

func (f *fakeMessenger) NotifyTyping() {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
}

func (f *fakeMessenger) Presence(userID string) (chat.Status, bool) {
	if userID == "bob" {
		return chat.Online, true
	}
	return chat.Offline, false
}

func (f *fakeMessenger) InFlight() []chat.Draft { return nil }

type fakeJournal struct {
	rows   []store.FailedSend
	queued []string
}

func (j *fakeJournal) List(_ context.Context, statuses ...string) ([]store.FailedSend, error) {
	return j.rows, nil
}

func (j *fakeJournal) Queue(_ context.Context, tempID string) error {
	for _, r := range j.rows {
		if r.TempID == tempID {
			j.queued = append(j.queued, tempID)
			return nil
		}
	}
	return store.ErrNotFound
}

func newFake() *fakeMessenger {
	return &fakeMessenger{
		convs: []chat.Conversation{
			{ID: "c1", Partner: chat.Profile{ID: "bob", Name: "Bob Stone"}, UnreadCount: 3},
			{ID: "c2", Partner: chat.Profile{ID: "ann", Name: "Ann Lee"}},
		},
		msgs: []chat.Message{
			{Identity: chat.Persisted{ID: "m1"}, ConversationID: "c1", SenderID: "bob", ReceiverID: "me", Content: "hi", Timestamp: day},
			{Identity: chat.Persisted{ID: "m2"}, ConversationID: "c1", SenderID: "me", ReceiverID: "bob", Content: "hey", Timestamp: day.Add(24 * time.Hour)},
			{Identity: chat.Pending{TempID: "t0"}, ConversationID: "c1", SenderID: "me", ReceiverID: "bob", Content: "sending", Timestamp: day.Add(24*time.Hour + time.Minute)},
		},
	}
}

func serve(t *testing.T, m api.Messenger, j api.FailureJournal, b *bus.Bus) *client.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.RegisterMessengerServer(srv, api.NewService("test", m, j, b, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	c := client.NewFromConn(conn)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestGetStatus(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", st.Session)
	assert.Equal(t, string(status.Online), st.State)
	assert.Equal(t, "me", st.UserID)
	assert.Equal(t, 3, st.TotalUnread)
}

func TestListConversationsFilter(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())
	ctx := context.Background()

	all, err := c.Conversations(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all.Conversations, 2)

	some, err := c.Conversations(ctx, "ann", false)
	require.NoError(t, err)
	require.Len(t, some.Conversations, 1)
	assert.Equal(t, "c2", some.Conversations[0].ID)

	none, err := c.Conversations(ctx, "zzz", false)
	require.NoError(t, err)
	assert.Empty(t, none.Conversations)
}

func TestOpenConversationTimeline(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())

	tl, err := c.Open(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", tl.ConversationID)
	assert.True(t, tl.PartnerTyping)
	assert.Equal(t, chat.Online, tl.PartnerStatus)

	// Two days: separator, m1, separator, m2, t0.
	require.Len(t, tl.Entries, 5)
	assert.True(t, tl.Entries[0].Separator)
	assert.True(t, tl.Entries[2].Separator)
	require.NotNil(t, tl.Entries[4].Message)
	assert.True(t, tl.Entries[4].Pending)
	tempID, ok := tl.Entries[4].Message.TempID()
	assert.True(t, ok)
	assert.Equal(t, chat.TempID("t0"), tempID)
	id, ok := tl.Entries[1].Message.ID()
	assert.True(t, ok)
	assert.Equal(t, chat.MessageID("m1"), id)
}

func TestOpenUnknownConversation(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())

	_, err := c.Open(context.Background(), "nope")
	assert.Equal(t, codes.NotFound, code(err))

	_, err = c.Open(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{delivery.ErrEmptyContent, codes.InvalidArgument},
		{delivery.ErrNoConversation, codes.FailedPrecondition},
		{delivery.ErrOffline, codes.Unavailable},
		{delivery.ErrSendInFlight, codes.Aborted},
		{&delivery.SendError{TempID: "t", Reason: "boom"}, codes.Unavailable},
	}
	for _, tt := range tests {
		f := newFake()
		f.sendErr = tt.err
		c := serve(t, f, nil, bus.New())
		_, err := c.Send(context.Background(), "x")
		if got := code(err); got != tt.want {
			t.Errorf("Send with %v: code = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSendAndTyping(t *testing.T) {
	f := newFake()
	c := serve(t, f, nil, bus.New())
	ctx := context.Background()

	tempID, err := c.Send(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "t1", tempID)
	require.NoError(t, c.NotifyTyping(ctx))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"hello"}, f.sent)
	assert.Equal(t, 1, f.typing)
}

func TestLoadOlderWithoutConversation(t *testing.T) {
	f := newFake()
	f.olderErr = delivery.ErrNoConversation
	c := serve(t, f, nil, bus.New())

	_, err := c.LoadOlder(context.Background())
	assert.Equal(t, codes.FailedPrecondition, code(err))
}

func TestPresence(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())

	p, err := c.Presence(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, chat.Online, p.Status)
	assert.True(t, p.Typing)

	p, err = c.Presence(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, chat.Offline, p.Status)
}

func TestFailedSendsAndRetry(t *testing.T) {
	j := &fakeJournal{rows: []store.FailedSend{
		{TempID: "t9", ConversationID: "c1", Content: "lost", Reason: "connection lost", Status: store.StatusFailed},
	}}
	c := serve(t, newFake(), j, bus.New())
	ctx := context.Background()

	rows, err := c.FailedSends(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "connection lost", rows[0].Reason)

	require.NoError(t, c.Retry(ctx, "t9"))
	assert.Equal(t, []string{"t9"}, j.queued)

	err = c.Retry(ctx, "missing")
	assert.Equal(t, codes.NotFound, code(err))
}

func TestJournalUnavailable(t *testing.T) {
	c := serve(t, newFake(), nil, bus.New())

	_, err := c.FailedSends(context.Background())
	assert.Equal(t, codes.Unavailable, code(err))
}

func TestWatchEvents(t *testing.T) {
	b := bus.New()
	c := serve(t, newFake(), nil, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Watch(ctx, "delivery.")
	require.NoError(t, err)

	// The subscription is registered on the server asynchronously.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			b.Emit("timeline.updated", "c1")
			b.Emit("delivery.failed", &delivery.SendError{
				TempID: "t1",
				Draft:  chat.Draft{ConversationID: "c1", Content: "hi"},
				Reason: "rejected",
			})
			select {
			case <-ctx.Done():
			case <-time.After(20 * time.Millisecond):
			}
		}
	}()

	evt, err := stream.Recv()
	require.NoError(t, err)
	cancel()
	<-done

	assert.Equal(t, "delivery.failed", evt.Kind)
	assert.NotEmpty(t, evt.EventID)
	assert.False(t, evt.OccurredAt.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "t1", payload["tempId"])
	assert.Equal(t, "rejected", payload["reason"])
}
