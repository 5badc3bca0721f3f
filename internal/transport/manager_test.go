package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/status"
)

// fakeEndpoint runs a websocket server that sends a hello on accept and acks
// every frame carrying a seq.
func fakeEndpoint(t *testing.T, socketID string) *httptest.Server {
	srv, _ := fakeEndpointConns(t, socketID)
	return srv
}

// fakeEndpointConns is fakeEndpoint plus a channel carrying each accepted
// server-side connection, so a test can sever it abruptly.
// httptest's CloseClientConnections cannot: hijacked (upgraded) connections
// are no longer tracked by the test server.
func fakeEndpointConns(t *testing.T, socketID string) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	up := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		select {
		case connCh <- conn:
		default:
		}

		hello, _ := wire.Encode(wire.EvHello, 0, wire.Hello{SocketID: socketID})
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
				ack, _ := wire.Encode(wire.EvAck, env.Seq, nil)
				if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, connCh
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectCapturesSocketIdentity(t *testing.T) {
	srv := fakeEndpoint(t, "sock-1")
	machine := status.NewMachine(nil)
	m := NewManager(Config{Candidates: []string{wsURL(srv)}}, machine, nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.IsConnected() {
		t.Fatal("not connected after Connect")
	}
	if got := m.ConnectionID(); got != "sock-1" {
		t.Errorf("connection id = %q, want sock-1", got)
	}
	if !machine.Is(status.Connected) {
		t.Errorf("state = %s, want %s", machine.Current(), status.Connected)
	}
	if m.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after success", m.Attempts())
	}
}

func TestConnectFailureIncrementsAttempts(t *testing.T) {
	machine := status.NewMachine(nil)
	m := NewManager(Config{
		Candidates:     []string{"ws://127.0.0.1:1"},
		ConnectTimeout: time.Second,
	}, machine, nil, nil)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if m.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", m.Attempts())
	}
	if !machine.Is(status.Disconnected) {
		t.Errorf("state = %s, want %s", machine.Current(), status.Disconnected)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	m := NewManager(Config{Candidates: []string{"ws://127.0.0.1:1"}}, status.NewMachine(nil), nil, nil)

	err := m.Send(wire.EvTypingStatus, wire.TypingStatus{UserID: "u", ChatID: "c", IsTyping: true})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := m.SendAwait(context.Background(), wire.EvJoinChat, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendAwait err = %v, want ErrNotConnected", err)
	}
}

func TestSendAwaitResolvedByAck(t *testing.T) {
	srv := fakeEndpoint(t, "sock-1")
	machine := status.NewMachine(nil)
	m := NewManager(Config{Candidates: []string{wsURL(srv)}, AckTimeout: 2 * time.Second}, machine, nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := m.SendAwait(context.Background(), wire.EvJoinChat, wire.JoinChat{UserID: "u", ChatID: "c"})
	if err != nil {
		t.Fatalf("SendAwait: %v", err)
	}
}

func TestExplicitDisconnectDoesNotFireHook(t *testing.T) {
	srv := fakeEndpoint(t, "sock-1")
	machine := status.NewMachine(nil)
	m := NewManager(Config{Candidates: []string{wsURL(srv)}}, machine, nil, nil)

	fired := make(chan struct{}, 1)
	m.SetOnDisconnect(func(error) { fired <- struct{}{} })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()

	select {
	case <-fired:
		t.Error("onDisconnect fired for an explicit Disconnect")
	case <-time.After(100 * time.Millisecond):
		// Expected.
	}
	if !machine.Is(status.Disconnected) {
		t.Errorf("state = %s, want %s", machine.Current(), status.Disconnected)
	}
}

func TestServerCloseFiresHook(t *testing.T) {
	srv, conns := fakeEndpointConns(t, "sock-1")
	machine := status.NewMachine(nil)
	m := NewManager(Config{Candidates: []string{wsURL(srv)}}, machine, nil, nil)

	fired := make(chan struct{}, 1)
	m.SetOnDisconnect(func(error) { fired <- struct{}{} })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := (<-conns).Close(); err != nil {
		t.Fatalf("closing server-side conn: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect never fired after server close")
	}
	if m.IsConnected() {
		t.Error("still connected after server close")
	}
	if m.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1 after unexpected loss", m.Attempts())
	}
}

func TestEndpointRotationWraps(t *testing.T) {
	m := NewManager(Config{Candidates: []string{"a", "b", "c"}}, status.NewMachine(nil), nil, nil)

	for i, want := range []int{1, 2, 0} {
		m.AdvanceEndpoint()
		if got := m.ActiveEndpointIndex(); got != want {
			t.Fatalf("after %d advances index = %d, want %d", i+1, got, want)
		}
	}
	m.ResetCycle()
	if got := m.ActiveEndpointIndex(); got != 0 {
		t.Errorf("index after ResetCycle = %d, want 0", got)
	}
}

func TestInboundFramesReachHandler(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		hello, _ := wire.Encode(wire.EvHello, 0, wire.Hello{SocketID: "sock-1"})
		_ = conn.WriteMessage(websocket.TextMessage, hello)
		frame, _ := wire.Encode(wire.EvTypingUpdate, 0, wire.TypingUpdate{UserID: "u", ChatID: "c", IsTyping: true})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	m := NewManager(Config{Candidates: []string{wsURL(srv)}}, status.NewMachine(nil), nil, nil)
	defer m.Disconnect()

	got := make(chan *wire.Envelope, 1)
	m.SetInboundHandler(func(env *wire.Envelope) { got <- env })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case env := <-got:
		if env.Event != wire.EvTypingUpdate {
			t.Errorf("event = %q, want %q", env.Event, wire.EvTypingUpdate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never reached handler")
	}
}
