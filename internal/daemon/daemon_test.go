package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/backend"
	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/config"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/creativecareer/ccai/internal/conn/conntest"
	"github.com/creativecareer/ccai/internal/messenger"
	"github.com/creativecareer/ccai/internal/outbox"
	"github.com/creativecareer/ccai/internal/status"
	"github.com/creativecareer/ccai/internal/store"
	"github.com/creativecareer/ccai/internal/tui/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	conversationsJSON = `{"success":true,"conversations":[
		{"conversationId":"c1","partner":{"_id":"bob","name":"Bob"},"unreadCount":1,"updatedAt":"2024-05-01T09:00:00Z",
		 "lastMessage":{"content":"hi","senderId":"bob","timestamp":"2024-05-01T09:00:00Z","read":false}}]}`
	messagesJSON = `{"success":true,"hasMore":false,"messages":[
		{"_id":"m1","conversationId":"c1","senderId":"bob","receiverId":"me","content":"hi","timestamp":"2024-05-01T09:00:00Z","read":false}]}`
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, conversationsJSON)
	})
	mux.HandleFunc("/conversation/c1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, messagesJSON)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// shortTempDir keeps socket paths under the 104-char limit on macOS.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortTempDir(t, "ccai-test-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "ccai.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components.
	logger := zap.NewNop()
	b := bus.New()
	tr := conntest.NewTransport()
	mgr := conn.NewManager(tr, status.NewMachine(b), logger, conn.Options{})
	rest := backend.NewClient(newAPIServer(t).URL, "", 5*time.Second, logger)
	journal := outbox.NewJournal(db)
	m := messenger.New(messenger.Config{UserID: "me"}, mgr, rest, b, journal, logger)
	retrier := outbox.NewRetrier(db, m, b, logger, 10*time.Millisecond)

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, api.NewService("test", m, journal, b, logger))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	retrier.Start(context.Background())
	defer retrier.Stop()

	var ch *conntest.Channel
	select {
	case ch = <-tr.Dialed():
	case <-time.After(2 * time.Second):
		t.Fatal("messenger never dialed")
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Session != "test" {
		t.Errorf("session = %q, want %q", st.Session, "test")
	}
	if st.UserID != "me" {
		t.Errorf("user = %q, want %q", st.UserID, "me")
	}

	eventually(t, "conversation snapshot", func() bool {
		resp, err := c.Conversations(ctx, "", false)
		return err == nil && len(resp.Conversations) == 1
	})

	tl, err := c.Open(ctx, "c1")
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if len(tl.Entries) != 2 || !tl.Entries[0].Separator || tl.Entries[1].Message == nil {
		t.Fatalf("entries = %+v, want separator then m1", tl.Entries)
	}
	if len(ch.Sent(conn.EventJoinConversation)) != 1 {
		t.Errorf("join-conversation frames = %d, want 1", len(ch.Sent(conn.EventJoinConversation)))
	}

	resp, err := c.Conversations(ctx, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.TotalUnread != 0 {
		t.Errorf("unread after open = %d, want 0", resp.TotalUnread)
	}

	tempID, err := c.Send(ctx, "hello")
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if got := len(ch.Sent(conn.EventSendMessage)); got != 1 {
		t.Fatalf("send-message frames = %d, want 1", got)
	}

	ch.Push(conn.EventMessageError, map[string]any{"error": "blocked", "tempId": tempID})

	var failed []api.FailedSend
	eventually(t, "journaled failure", func() bool {
		failed, err = c.FailedSends(ctx, store.StatusFailed)
		return err == nil && len(failed) == 1
	})
	if failed[0].TempID != tempID || failed[0].Content != "hello" {
		t.Errorf("failed send = %+v, want %s/hello", failed[0], tempID)
	}

	if err := c.Retry(ctx, tempID); err != nil {
		t.Fatalf("Retry error = %v", err)
	}
	eventually(t, "resend", func() bool {
		return len(ch.Sent(conn.EventSendMessage)) == 2
	})
	eventually(t, "journal marked resent", func() bool {
		rows, err := c.FailedSends(ctx, store.StatusResent)
		return err == nil && len(rows) == 1
	})
}

func TestWatchEventsOverSocket(t *testing.T) {
	tmpDir := shortTempDir(t, "ccai-watch-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	b := bus.New()
	mgr := conn.NewManager(conntest.NewTransport(), status.NewMachine(b), nil, conn.Options{})
	rest := backend.NewClient(newAPIServer(t).URL, "", 5*time.Second, nil)
	m := messenger.New(messenger.Config{UserID: "me"}, mgr, rest, b, nil, nil)

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), api.NewService("test", m, nil, b, nil))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := c.Watch(ctx, "conn.")
	if err != nil {
		t.Fatal(err)
	}

	// The server subscribes asynchronously; keep publishing until the
	// stream delivers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			b.Emit(messenger.KindTimelineUpdated, "c1")
			b.Emit(status.KindStatusChanged, status.StatusChange{From: status.Idle, To: status.Connecting})
			select {
			case <-ctx.Done():
			case <-time.After(20 * time.Millisecond):
			}
		}
	}()

	evt, err := stream.Recv()
	cancel()
	<-done
	if err != nil {
		t.Fatalf("Recv error = %v", err)
	}
	if evt.Kind != status.KindStatusChanged {
		t.Errorf("kind = %q, want %q", evt.Kind, status.KindStatusChanged)
	}
	var change status.StatusChange
	if err := json.Unmarshal(evt.Payload, &change); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if change.To != status.Connecting {
		t.Errorf("to = %q, want %q", change.To, status.Connecting)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without
// running any constructor.
func TestFxModuleWiring(t *testing.T) {
	tmpDir := shortTempDir(t, "ccai-fx-*")
	p := Params{
		SessionName: "fxtest",
		SocketPath:  filepath.Join(tmpDir, "d.sock"),
		ConfigPath:  filepath.Join(tmpDir, "config.toml"),
	}
	if err := fx.ValidateApp(Module(p)); err != nil {
		t.Fatalf("fx graph: %v", err)
	}
}

func TestNewServerSocket(t *testing.T) {
	tmpDir := shortTempDir(t, "ccai-srv-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	// A stale socket file from a crashed daemon is replaced.
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{SessionName: "srvtest", SocketPath: socketPath}, zap.NewNop(), api.NewService("srvtest", nil, nil, nil, nil))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}

func TestNewServerRefusesLiveSocket(t *testing.T) {
	tmpDir := shortTempDir(t, "ccai-live-*")
	socketPath := filepath.Join(tmpDir, "d.sock")

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()

	_, err = NewServer(Params{SessionName: "live", SocketPath: socketPath}, zap.NewNop(), api.NewService("live", nil, nil, nil, nil))
	if !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("NewServer() error = %v, want ErrSocketInUse", err)
	}
	if _, err := os.Stat(socketPath); err != nil {
		t.Errorf("live socket was removed: %v", err)
	}
}

func TestMessengerConfigFromFile(t *testing.T) {
	cfg := config.Default()
	cfg.UserID = "me"
	cfg.AllowConcurrentSends = true

	mc := messengerConfig(&cfg)
	if mc.UserID != "me" {
		t.Errorf("UserID = %q, want me", mc.UserID)
	}
	if mc.PageSize != cfg.PageSize {
		t.Errorf("PageSize = %d, want %d", mc.PageSize, cfg.PageSize)
	}
	if mc.ReconnectInterval != cfg.ReconnectInterval {
		t.Errorf("ReconnectInterval = %v, want %v", mc.ReconnectInterval, cfg.ReconnectInterval)
	}
	if !mc.AllowConcurrentSends {
		t.Error("AllowConcurrentSends = false, want true")
	}
}
