package membership

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/vibely/realtime/internal/wire"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []sentFrame
}

type sentFrame struct {
	name    string
	payload any
}

func (f *fakeTransport) SendAwait(_ context.Context, name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{name, payload})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func TestJoinSendsWhileConnected(t *testing.T) {
	tx := &fakeTransport{connected: true}
	m := New(tx, "alice", nil)

	if err := m.Join(context.Background(), "chat-1"); err != nil {
		t.Fatal(err)
	}

	frames := tx.frames()
	if len(frames) != 1 || frames[0].name != wire.EvJoinChat {
		t.Fatalf("got frames %v, want one join_chat", frames)
	}
	join := frames[0].payload.(wire.JoinChat)
	if join.UserID != "alice" || join.ChatID != "chat-1" {
		t.Errorf("join payload = %+v", join)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	tx := &fakeTransport{connected: true}
	m := New(tx, "alice", nil)

	for i := 0; i < 3; i++ {
		if err := m.Join(context.Background(), "chat-1"); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(tx.frames()); got != 1 {
		t.Errorf("sent %d join frames, want 1", got)
	}
	if got := m.Joined(); len(got) != 1 {
		t.Errorf("joined = %v, want one entry", got)
	}
}

func TestJoinWhileDisconnectedIsRemembered(t *testing.T) {
	tx := &fakeTransport{}
	m := New(tx, "alice", nil)

	if err := m.Join(context.Background(), "chat-1"); err != nil {
		t.Fatal(err)
	}
	if got := len(tx.frames()); got != 0 {
		t.Fatalf("sent %d frames while disconnected, want 0", got)
	}

	tx.setConnected(true)
	m.HandleConnected()

	waitForFrames(t, tx, 1)
	if frames := tx.frames(); frames[0].name != wire.EvJoinChat {
		t.Errorf("got %q, want join_chat", frames[0].name)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	tx := &fakeTransport{connected: true}
	m := New(tx, "alice", nil)

	for _, id := range []string{"chat-1", "chat-2"} {
		if err := m.Join(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	// Connection identity changed; the server forgot everything.
	m.HandleConnected()

	waitForFrames(t, tx, 4)
}

func TestLeaveForgetsChannel(t *testing.T) {
	tx := &fakeTransport{connected: true}
	m := New(tx, "alice", nil)

	if err := m.Join(context.Background(), "chat-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Leave(context.Background(), "chat-1"); err != nil {
		t.Fatal(err)
	}
	m.HandleConnected()

	// Only the original join and the leave; no replay.
	time.Sleep(50 * time.Millisecond)
	frames := tx.frames()
	if len(frames) != 2 || frames[1].name != wire.EvLeaveChat {
		t.Errorf("got frames %v, want [join_chat leave_chat]", frames)
	}
	if got := m.Joined(); len(got) != 0 {
		t.Errorf("joined = %v, want empty", got)
	}
}

func waitForFrames(t *testing.T, tx *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(tx.frames()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d frames, want %d", len(tx.frames()), n)
}
