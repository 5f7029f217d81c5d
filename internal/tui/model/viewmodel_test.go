package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/store"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeClient struct {
	status   api.StatusResponse
	convs    []chat.Conversation
	timeline api.TimelineResponse
	older    api.LoadOlderResponse
	failed   []api.FailedSend
	sendErr  error

	filters   []string
	refreshes []bool
	opened    []string
	sent      []string
	retried   []string
	timelines int
	typing    int
	closed    bool
}

func (f *fakeClient) Status(context.Context) (*api.StatusResponse, error) {
	s := f.status
	return &s, nil
}

func (f *fakeClient) Conversations(_ context.Context, filter string, refresh bool) (*api.ListConversationsResponse, error) {
	f.filters = append(f.filters, filter)
	f.refreshes = append(f.refreshes, refresh)
	var out []chat.Conversation
	total := 0
	for _, c := range f.convs {
		total += c.UnreadCount
		if c.Matches(filter) {
			out = append(out, c)
		}
	}
	return &api.ListConversationsResponse{Conversations: out, TotalUnread: total}, nil
}

func (f *fakeClient) Open(_ context.Context, id string) (*api.TimelineResponse, error) {
	if id == "missing" {
		return nil, grpcstatus.Error(codes.NotFound, "unknown conversation")
	}
	f.opened = append(f.opened, id)
	f.status.OpenConversation = id
	f.timeline.ConversationID = id
	tl := f.timeline
	return &tl, nil
}

func (f *fakeClient) CloseConversation(context.Context) error {
	f.closed = true
	f.status.OpenConversation = ""
	f.timeline = api.TimelineResponse{}
	return nil
}

func (f *fakeClient) LoadOlder(context.Context) (*api.LoadOlderResponse, error) {
	o := f.older
	return &o, nil
}

func (f *fakeClient) Timeline(context.Context, string) (*api.TimelineResponse, error) {
	f.timelines++
	tl := f.timeline
	return &tl, nil
}

func (f *fakeClient) Send(_ context.Context, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, content)
	return "t1", nil
}

func (f *fakeClient) NotifyTyping(context.Context) error {
	f.typing++
	return nil
}

func (f *fakeClient) FailedSends(_ context.Context, statuses ...string) ([]api.FailedSend, error) {
	var out []api.FailedSend
	for _, s := range f.failed {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeClient) Retry(_ context.Context, tempID string) error {
	f.retried = append(f.retried, tempID)
	return nil
}

func newFake() *fakeClient {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &fakeClient{
		status: api.StatusResponse{Session: "default", State: "ONLINE", Online: true, UserID: "u1", TotalUnread: 3},
		convs: []chat.Conversation{
			{ID: "c1", Partner: chat.Profile{ID: "bob", Name: "Bob"}, UnreadCount: 2,
				LastMessage: &chat.LastMessage{Content: "see you", SenderID: "bob", Timestamp: ts}},
			{ID: "c2", Partner: chat.Profile{ID: "ann", Name: "Ann"}, UnreadCount: 1,
				LastMessage: &chat.LastMessage{Content: "thanks", SenderID: "ann", Timestamp: ts}},
		},
	}
}

func drain(vm *ViewModel) Change {
	select {
	case <-vm.RefreshCh():
	default:
	}
	return vm.Changes()
}

func TestLoadStatusAndConversations(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()

	if err := vm.LoadStatus(ctx); err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if err := vm.LoadConversations(ctx, true); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}

	if got := drain(vm); got != ChangeStatus|ChangeConversations {
		t.Errorf("changes = %b, want status|conversations", got)
	}
	if vm.Status().UserID != "u1" {
		t.Errorf("UserID = %q, want u1", vm.Status().UserID)
	}
	if len(vm.Conversations()) != 2 || vm.TotalUnread() != 3 {
		t.Errorf("conversations = %d unread = %d, want 2 and 3", len(vm.Conversations()), vm.TotalUnread())
	}
	if diff := cmp.Diff([]bool{true}, fc.refreshes); diff != "" {
		t.Errorf("refresh flags (-want +got):\n%s", diff)
	}
}

func TestSetFilter(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)

	if err := vm.SetFilter(context.Background(), "  ann "); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if vm.Filter() != "ann" {
		t.Errorf("Filter() = %q, want ann", vm.Filter())
	}
	convs := vm.Conversations()
	if len(convs) != 1 || convs[0].ID != "c2" {
		t.Errorf("filtered = %+v, want only c2", convs)
	}
	if fc.filters[0] != "ann" {
		t.Errorf("client filter = %q, want ann", fc.filters[0])
	}
}

func TestOpenZeroesUnread(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.LoadConversations(ctx, false)

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if vm.OpenID() != "c1" || len(fc.opened) != 1 {
		t.Errorf("OpenID() = %q opened=%v, want c1 once", vm.OpenID(), fc.opened)
	}
	if vm.Timeline() == nil || vm.Timeline().ConversationID != "c1" {
		t.Errorf("Timeline() = %+v, want c1", vm.Timeline())
	}
	if vm.Conversations()[0].UnreadCount != 0 || vm.TotalUnread() != 1 {
		t.Errorf("unread after open = %d total %d, want 0 and 1", vm.Conversations()[0].UnreadCount, vm.TotalUnread())
	}
	partner, ok := vm.Partner()
	if !ok || partner.Name != "Bob" {
		t.Errorf("Partner() = %+v %v, want Bob", partner, ok)
	}
}

func TestOpenUnknown(t *testing.T) {
	vm := NewViewModel(newFake())
	err := vm.Open(context.Background(), "missing")
	if grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("Open(missing) code = %v, want NotFound", grpcstatus.Code(err))
	}
	if vm.OpenID() != "" {
		t.Errorf("OpenID() = %q after failed open", vm.OpenID())
	}
}

func TestThreadOperationsNeedOpenConversation(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()

	if err := vm.Send(ctx, "hi"); !errors.Is(err, ErrNothingOpen) {
		t.Errorf("Send error = %v, want ErrNothingOpen", err)
	}
	if _, err := vm.LoadOlder(ctx); !errors.Is(err, ErrNothingOpen) {
		t.Errorf("LoadOlder error = %v, want ErrNothingOpen", err)
	}
	if err := vm.Typing(ctx); err != nil {
		t.Errorf("Typing error = %v, want nil", err)
	}
	if err := vm.ReloadTimeline(ctx); err != nil {
		t.Errorf("ReloadTimeline error = %v, want nil", err)
	}
	if len(fc.sent) != 0 || fc.typing != 0 || fc.timelines != 0 {
		t.Errorf("client was called: sent=%v typing=%d timelines=%d", fc.sent, fc.typing, fc.timelines)
	}
}

func TestSendReloadsTimeline(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")

	if err := vm.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if diff := cmp.Diff([]string{"hello"}, fc.sent); diff != "" {
		t.Errorf("sent (-want +got):\n%s", diff)
	}
	if fc.timelines != 1 {
		t.Errorf("timeline fetches = %d, want 1", fc.timelines)
	}
	if err := vm.Typing(ctx); err != nil || fc.typing != 1 {
		t.Errorf("Typing err=%v calls=%d, want one call", err, fc.typing)
	}
	_ = vm.Typing(ctx)
	_ = vm.Typing(ctx)
	if fc.typing != 3 {
		t.Errorf("Typing calls = %d, want every edit forwarded", fc.typing)
	}
}

func TestSendError(t *testing.T) {
	fc := newFake()
	fc.sendErr = grpcstatus.Error(codes.Aborted, "send in flight")
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")

	err := vm.Send(ctx, "hello")
	if grpcstatus.Code(err) != codes.Aborted {
		t.Fatalf("Send code = %v, want Aborted", grpcstatus.Code(err))
	}
	if got := Describe(err); got != "Still sending the previous message" {
		t.Errorf("Describe = %q", got)
	}
}

func TestCloseDropsTimeline(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")
	drain(vm)

	if err := vm.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fc.closed || vm.OpenID() != "" || vm.Timeline() != nil {
		t.Errorf("after Close: closed=%v open=%q timeline=%v", fc.closed, vm.OpenID(), vm.Timeline())
	}
	if got := drain(vm); got != ChangeTimeline {
		t.Errorf("changes = %b, want timeline", got)
	}
}

func TestReloadTimelineFollowsDaemonClose(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")

	fc.timeline = api.TimelineResponse{}
	if err := vm.ReloadTimeline(ctx); err != nil {
		t.Fatalf("ReloadTimeline: %v", err)
	}
	if vm.OpenID() != "" || vm.Timeline() != nil {
		t.Errorf("open=%q timeline=%v, want both cleared", vm.OpenID(), vm.Timeline())
	}
}

func TestLoadOlder(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")

	fc.older = api.LoadOlderResponse{Added: 20, HasMore: true}
	n, err := vm.LoadOlder(ctx)
	if err != nil || n != 20 {
		t.Fatalf("LoadOlder = %d, %v; want 20", n, err)
	}
	if fc.timelines != 1 {
		t.Errorf("timeline fetches = %d, want 1", fc.timelines)
	}

	fc.older = api.LoadOlderResponse{Added: 0, HasMore: true}
	if n, _ := vm.LoadOlder(ctx); n != 0 || fc.timelines != 1 {
		t.Errorf("empty page: n=%d fetches=%d, want 0 and 1", n, fc.timelines)
	}
}

func TestRetry(t *testing.T) {
	fc := newFake()
	fc.failed = []api.FailedSend{
		{TempID: "t1", Status: store.StatusFailed},
		{TempID: "t2", Status: store.StatusResent},
		{TempID: "t3", Status: store.StatusFailed},
	}
	vm := NewViewModel(fc)
	ctx := context.Background()

	n, err := vm.Retry(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("Retry(all) = %d, %v; want 2", n, err)
	}
	if n, err := vm.Retry(ctx, "t9"); err != nil || n != 1 {
		t.Fatalf("Retry(t9) = %d, %v; want 1", n, err)
	}
	if diff := cmp.Diff([]string{"t1", "t3", "t9"}, fc.retried); diff != "" {
		t.Errorf("retried (-want +got):\n%s", diff)
	}
}

func TestHandleEvent(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")
	drain(vm)

	tests := []struct {
		kind          string
		wantTimelines int
		wantLists     int
		wantFlash     bool
	}{
		{"conversations.updated", 0, 1, false},
		{"timeline.updated", 1, 0, false},
		{"typing.updated", 1, 0, false},
		{"delivery.failed", 1, 0, true},
		{"conn.status_changed", 1, 0, false},
		{"unrelated.kind", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			fc.timelines = 0
			fc.filters = nil
			vm.Flash = NewViewModel(fc).Flash

			if err := vm.HandleEvent(ctx, &api.Event{Kind: tt.kind}); err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}
			if fc.timelines != tt.wantTimelines {
				t.Errorf("timeline fetches = %d, want %d", fc.timelines, tt.wantTimelines)
			}
			if len(fc.filters) != tt.wantLists {
				t.Errorf("list fetches = %d, want %d", len(fc.filters), tt.wantLists)
			}
			if got := vm.Flash.Current() != nil; got != tt.wantFlash {
				t.Errorf("flash set = %v, want %v", got, tt.wantFlash)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNothingOpen, "No conversation open"},
		{grpcstatus.Error(codes.Unavailable, "not connected"), "Offline: not connected"},
		{grpcstatus.Error(codes.InvalidArgument, "empty content"), "empty content"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
