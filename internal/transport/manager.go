// Package transport owns the live bidirectional connection to the realtime
// endpoint and the policy that decides when and where to reconnect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vibely/realtime/internal/auth"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/status"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send when no live connection exists.
	// The manager never queues outbound frames; callers decide whether to
	// buffer or surface the failure.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAckTimeout is returned when the server does not acknowledge a
	// frame within the configured wait.
	ErrAckTimeout = errors.New("transport: ack timeout")

	// ErrNoCandidates is returned when the candidate endpoint list is empty.
	ErrNoCandidates = errors.New("transport: no endpoint candidates")
)

// Config holds the connection knobs. Zero values fall back to defaults.
type Config struct {
	Candidates     []string
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	WriteTimeout   time.Duration
	KeepAlive      time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
}

// InboundHandler receives every decoded non-control inbound frame.
type InboundHandler func(env *wire.Envelope)

// Manager owns a single long-lived websocket connection. The connection is
// recreated, never reused, across reconnect attempts; a new socket identity
// arrives with each server hello.
type Manager struct {
	cfg     Config
	machine *status.Machine
	tokens  *auth.TokenSource
	logger  *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	socketID     string
	idx          int // activeEndpointIndex
	attempts     int
	generation   int
	seq          uint64
	acks         map[uint64]chan error
	handler      InboundHandler
	onDisconnect func(err error)

	writeMu sync.Mutex
}

// NewManager creates a connection manager. tokens may be nil for anonymous
// endpoints; logger may be nil.
func NewManager(cfg Config, machine *status.Machine, tokens *auth.TokenSource, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		machine: machine,
		tokens:  tokens,
		logger:  logger,
		acks:    make(map[uint64]chan error),
	}
}

// SetInboundHandler wires the consumer of decoded inbound frames. Must be
// called before Connect.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// SetOnDisconnect wires the hook invoked after an unexpected connection loss.
// Not invoked for explicit Disconnect calls.
func (m *Manager) SetOnDisconnect(f func(err error)) {
	m.mu.Lock()
	m.onDisconnect = f
	m.mu.Unlock()
}

// Connect attempts the candidate at the active endpoint index. On success the
// state moves to Connected and the attempt counter resets; on failure the
// counter increments and the state returns to Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if len(m.cfg.Candidates) == 0 {
		m.mu.Unlock()
		return ErrNoCandidates
	}
	endpoint := m.cfg.Candidates[m.idx]
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}

	conn, socketID, err := m.dial(ctx, endpoint)
	if err != nil {
		m.mu.Lock()
		m.attempts++
		m.mu.Unlock()
		_ = m.machine.Transition(status.Disconnected)
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.socketID = socketID
	m.attempts = 0
	m.generation++
	gen := m.generation
	m.acks = make(map[uint64]chan error)
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connected)
	go m.readLoop(conn, gen)
	go m.pingLoop(conn, gen)
	m.logger.Info("connected",
		zap.String("endpoint", endpoint),
		zap.String("socket_id", socketID))
	return nil
}

// dial performs the websocket handshake and waits for the server hello that
// carries this connection's socket identity.
func (m *Manager) dial(ctx context.Context, endpoint string) (*websocket.Conn, string, error) {
	var header http.Header
	if m.tokens != nil {
		h, err := m.tokens.Header()
		if err != nil {
			return nil, "", err
		}
		header = h
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, "", fmt.Errorf("handshake: %w", err)
	}
	conn.SetReadLimit(64 << 10)

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.ConnectTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("await hello: %w", err)
	}
	env, err := wire.Decode(raw)
	if err != nil || env.Event != wire.EvHello {
		_ = conn.Close()
		return nil, "", fmt.Errorf("expected hello frame, got %q", string(raw))
	}
	var hello wire.Hello
	if err := env.Unmarshal(&hello); err != nil {
		_ = conn.Close()
		return nil, "", err
	}
	return conn, hello.SocketID, nil
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	wait := 2 * m.cfg.KeepAlive
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		env, err := wire.Decode(raw)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch env.Event {
		case wire.EvAck:
			m.resolveAck(env.Seq)
		case wire.EvHello:
			// Identity already captured during dial.
		default:
			m.mu.Lock()
			h := m.handler
			m.mu.Unlock()
			if h != nil {
				h(env)
			}
		}
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(m.cfg.KeepAlive)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		stale := m.generation != gen || m.conn == nil
		m.mu.Unlock()
		if stale {
			return
		}
		deadline := time.Now().Add(m.cfg.WriteTimeout)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			m.connectionLost(gen, fmt.Errorf("keepalive: %w", err))
			return
		}
	}
}

// connectionLost tears down after an unexpected failure. The generation guard
// keeps loops of a replaced connection from touching the current one.
func (m *Manager) connectionLost(gen int, err error) {
	m.mu.Lock()
	if m.generation != gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	_ = m.conn.Close()
	m.conn = nil
	m.socketID = ""
	m.attempts++
	m.failPendingAcksLocked()
	cb := m.onDisconnect
	m.mu.Unlock()

	_ = m.machine.Transition(status.Disconnected)
	m.logger.Warn("connection lost", zap.Error(err))
	if cb != nil {
		cb(err)
	}
}

// Disconnect closes the connection without scheduling a reconnect. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.socketID = ""
	m.generation++
	m.failPendingAcksLocked()
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	_ = m.machine.Transition(status.Disconnected)
}

// Send writes a fire-and-forget frame. Fails with ErrNotConnected while
// disconnected rather than dropping silently.
func (m *Manager) Send(name string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := wire.Encode(name, 0, payload)
	if err != nil {
		return err
	}
	return m.write(conn, name, frame)
}

// SendAwait writes a frame and blocks until the server acknowledges it, the
// ack timeout fires, or ctx is done.
func (m *Manager) SendAwait(ctx context.Context, name string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.seq++
	seq := m.seq
	ch := make(chan error, 1)
	m.acks[seq] = ch
	m.mu.Unlock()

	frame, err := wire.Encode(name, seq, payload)
	if err != nil {
		m.dropAck(seq)
		return err
	}
	if err := m.write(conn, name, frame); err != nil {
		m.dropAck(seq)
		return err
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		m.dropAck(seq)
		return fmt.Errorf("%s: %w", name, ErrAckTimeout)
	case <-ctx.Done():
		m.dropAck(seq)
		return ctx.Err()
	}
}

func (m *Manager) write(conn *websocket.Conn, name string, frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

func (m *Manager) resolveAck(seq uint64) {
	m.mu.Lock()
	ch := m.acks[seq]
	delete(m.acks, seq)
	m.mu.Unlock()
	if ch != nil {
		ch <- nil
	}
}

func (m *Manager) dropAck(seq uint64) {
	m.mu.Lock()
	delete(m.acks, seq)
	m.mu.Unlock()
}

func (m *Manager) failPendingAcksLocked() {
	for seq, ch := range m.acks {
		delete(m.acks, seq)
		ch <- ErrNotConnected
	}
}

// IsConnected reports whether a live connection exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// ConnectionID returns the server-assigned socket identity, empty while
// disconnected.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketID
}

// Attempts returns the consecutive failure count since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ActiveEndpointIndex returns the index of the candidate currently tried.
func (m *Manager) ActiveEndpointIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx
}

// AdvanceEndpoint rotates to the next candidate endpoint. On mobile, many
// connection failures are "wrong endpoint for current network", so a
// different endpoint is the first-line response to failure.
func (m *Manager) AdvanceEndpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.cfg.Candidates); n > 0 {
		m.idx = (m.idx + 1) % n
	}
}

// ResetCycle restarts the candidate cycle from index 0 with a fresh attempt
// budget.
func (m *Manager) ResetCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx = 0
	m.attempts = 0
}
