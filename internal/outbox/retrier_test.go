package outbox

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/store"
	"go.uber.org/zap"
)

// mockResender records calls and returns configurable results.
type mockResender struct {
	mu    sync.Mutex
	ready map[string]bool
	err   error
	calls []string
}

func (m *mockResender) ReadyFor(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready[conversationID]
}

func (m *mockResender) Resend(conversationID, content string) (chat.TempID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, conversationID+":"+content)
	if m.err != nil {
		return "", m.err
	}
	return chat.TempID("new-" + content), nil
}

func (m *mockResender) setReady(conversationID string) {
	m.mu.Lock()
	m.ready[conversationID] = true
	m.mu.Unlock()
}

func (m *mockResender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func journalFailure(t *testing.T, j *Journal, tempID, conversationID, content string) {
	t.Helper()
	err := j.RecordFailure(context.Background(), &delivery.SendError{
		TempID: chat.TempID(tempID),
		Draft:  chat.Draft{TempID: chat.TempID(tempID), ConversationID: conversationID, SenderID: "me", ReceiverID: "u2", Content: content},
		Reason: "connection lost",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestJournalRecordsDraft(t *testing.T) {
	db := testDB(t)
	j := NewJournal(db)
	journalFailure(t, j, "t1", "c1", "hello")

	rows, err := j.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got.TempID != "t1" || got.ConversationID != "c1" || got.ReceiverID != "u2" || got.Content != "hello" || got.Reason != "connection lost" {
		t.Errorf("row = %+v", got)
	}
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestRetrierResendsWhenReady(t *testing.T) {
	db := testDB(t)
	j := NewJournal(db)
	b := bus.New()
	mock := &mockResender{ready: map[string]bool{}}
	logger, _ := zap.NewDevelopment()
	r := NewRetrier(db, mock, b, logger, 10*time.Millisecond)

	ch, unsub := b.Subscribe(KindRetryResent, 10)
	defer unsub()

	journalFailure(t, j, "t1", "c1", "hello")
	if err := j.Queue(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	r.Start(context.Background())
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	if n := mock.callCount(); n != 0 {
		t.Fatalf("got %d resend calls before the conversation was ready, want 0", n)
	}

	mock.setReady("c1")
	select {
	case evt := <-ch:
		if evt.Kind != KindRetryResent {
			t.Errorf("event kind = %q, want %s", evt.Kind, KindRetryResent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resent event")
	}

	f, err := db.GetFailedSend(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != store.StatusResent || f.ResentTempID != "new-hello" {
		t.Errorf("row = %+v, want resent as new-hello", f)
	}
	if n := mock.callCount(); n != 1 {
		t.Errorf("got %d resend calls, want 1", n)
	}
}

func TestRetrierLeavesUnqueuedRowsAlone(t *testing.T) {
	db := testDB(t)
	j := NewJournal(db)
	mock := &mockResender{ready: map[string]bool{"c1": true}}
	r := NewRetrier(db, mock, nil, nil, 10*time.Millisecond)

	journalFailure(t, j, "t1", "c1", "not queued")

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	if n := mock.callCount(); n != 0 {
		t.Errorf("got %d resend calls, want 0", n)
	}
}

func TestRetrierKeepsQueueWhileOffline(t *testing.T) {
	db := testDB(t)
	j := NewJournal(db)
	mock := &mockResender{ready: map[string]bool{"c1": true}, err: delivery.ErrOffline}
	r := NewRetrier(db, mock, nil, nil, 10*time.Millisecond)

	journalFailure(t, j, "t1", "c1", "later")
	if err := j.Queue(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	queued, err := db.QueuedRetries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 {
		t.Errorf("got %d queued, want 1 (offline must not settle the row)", len(queued))
	}
}

func TestRetrierSettlesRowWhenResendFailsAgain(t *testing.T) {
	db := testDB(t)
	j := NewJournal(db)
	mock := &mockResender{ready: map[string]bool{"c1": true}, err: &delivery.SendError{TempID: "t2", Reason: "write failed"}}
	r := NewRetrier(db, mock, nil, nil, time.Hour)

	journalFailure(t, j, "t1", "c1", "again")
	if err := j.Queue(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	r.processQueued(context.Background())

	f, err := db.GetFailedSend(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != store.StatusResent {
		t.Errorf("status = %q, want resent", f.Status)
	}
}
