package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/status"
	"github.com/vibely/realtime/store"
)

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeRealtime serves the hello handshake and acks seq-carrying frames.
func fakeRealtime(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		hello, _ := wire.Encode("hello", 0, wire.Hello{SocketID: "sock-1"})
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Decode(raw)
			if err != nil {
				continue
			}
			if env.Seq != 0 {
				ack, _ := wire.Encode("ack", env.Seq, nil)
				if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSession(t *testing.T, endpoint string) *Session {
	t.Helper()
	opts := DefaultOptions("alice", endpoint)
	opts.RetryDelay = 10 * time.Millisecond
	s, err := NewSession(opts, Deps{Store: testStore(t), Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSessionValidates(t *testing.T) {
	if _, err := NewSession(Options{Endpoints: []string{"wss://a"}}, Deps{Logger: zap.NewNop()}); err == nil {
		t.Error("expected error for missing user id")
	}
	if _, err := NewSession(Options{UserID: "alice"}, Deps{Logger: zap.NewNop()}); err == nil {
		t.Error("expected error for empty endpoint list")
	}
}

func TestSendMessageDisconnectedWithoutBuffer(t *testing.T) {
	s := newTestSession(t, "ws://127.0.0.1:1")

	_, err := s.SendMessage(context.Background(), "bob", "hi", store.TypeText, "")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSessionConnectAndSend(t *testing.T) {
	srv := fakeRealtime(t)
	s := newTestSession(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	connected := make(chan struct{}, 1)
	defer s.Subscribe(bus.KindConnectionChange, func(e bus.Event) {
		if e.(bus.ConnectionChangeEvent).To == status.Connected {
			connected <- struct{}{}
		}
	})()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("session never connected")
	}
	if got := s.ConnectionID(); got != "sock-1" {
		t.Errorf("connection id = %q, want sock-1", got)
	}

	var published []store.Message
	defer s.Subscribe(bus.KindMessage, func(e bus.Event) {
		published = append(published, e.(bus.MessageEvent).Message)
	})()

	m, err := s.SendMessage(context.Background(), "bob", "hello", store.TypeText, "")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID == "" || m.ClientID == "" {
		t.Fatalf("message = %+v, want assigned ids", m)
	}
	if len(published) != 1 || published[0].ID != m.ID {
		t.Errorf("published = %v, want the sent message", published)
	}

	if err := s.JoinChat(context.Background(), "chat-1"); err != nil {
		t.Fatal(err)
	}
	if got := s.JoinedChats(); len(got) != 1 || got[0] != "chat-1" {
		t.Errorf("joined = %v, want [chat-1]", got)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.IsConnected() {
		t.Error("still connected after Close")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := newTestSession(t, "ws://127.0.0.1:1")

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing again is safe.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
