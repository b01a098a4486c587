package transport

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the recognition service's streaming endpoint.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

// ErrMissingCredential is returned by Connect before any network activity
// when no API credential is configured.
var ErrMissingCredential = errors.New("recognition API credential is missing")

// State is the lifecycle state of the managed connection. Closed is
// terminal per connection instance; a later Connect starts a logically
// new one.
type State int

const (
	StateNotConnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not connected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind discriminates Manager events.
type EventKind int

const (
	// EventConnecting carries the transient is-connecting signal,
	// distinct from the final states so the UI can show a spinner.
	EventConnecting EventKind = iota
	// EventOpen fires when the connection is ready (or was already open).
	EventOpen
	// EventMessage carries one inbound service frame.
	EventMessage
	// EventClosed fires once per connection instance with the close code
	// and reason.
	EventClosed
	// EventError carries a low-level socket or handshake failure.
	EventError
)

// Event is one asynchronous notification from the Manager.
type Event struct {
	Kind       EventKind
	Connecting bool
	Payload    []byte
	Code       int
	Reason     string
	Err        error
}

// Config selects the recognition endpoint and its query parameters.
type Config struct {
	Endpoint    string // defaults to DefaultEndpoint
	Model       string // recognition model, e.g. "nova-3"
	Diarize     bool   // request speaker labels
	DialTimeout time.Duration
}

// Manager owns a single streaming connection to the recognition service:
// it dials, relays inbound frames, forwards outbound audio, and reports
// lifecycle changes on its event channel. All exported methods are safe
// to call from any goroutine.
type Manager struct {
	cfg    Config
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	aborted bool // stop requested while the handshake was in flight
}

func NewManager(cfg Config) *Manager {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		events: make(chan Event, 64),
	}
}

// Events returns the manager's event stream. Events are dropped (and
// logged) if the consumer stops reading; the manager never blocks on it.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("transport: event consumer behind, dropping event kind %d", ev.Kind)
	}
}

// State returns the current connection lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the streaming connection, authenticating via the
// WebSocket sub-protocol pair ("token", credential) so the credential
// never appears in the URL or a message body. An empty credential fails
// fast with ErrMissingCredential and no connection attempt. Calling
// Connect while already open re-signals open instead of dialing again.
func (m *Manager) Connect(credential string) error {
	if credential == "" {
		return ErrMissingCredential
	}

	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		m.emit(Event{Kind: EventConnecting, Connecting: false})
		m.emit(Event{Kind: EventOpen})
		return nil
	case StateConnecting, StateClosing:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.aborted = false
	m.mu.Unlock()

	m.emit(Event{Kind: EventConnecting, Connecting: true})
	go m.dial(credential)
	return nil
}

func (m *Manager) dial(credential string) {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.DialTimeout,
		Subprotocols:     []string{"token", credential},
	}

	conn, resp, err := dialer.Dial(m.endpointURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.emit(Event{Kind: EventConnecting, Connecting: false})
		m.emit(Event{Kind: EventError, Err: fmt.Errorf("connect to recognition service: %w", err)})
		return
	}

	m.mu.Lock()
	if m.aborted {
		// Stop was requested while the handshake was in flight; honor it
		// by releasing the freshly granted connection immediately.
		m.state = StateClosed
		m.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		m.emit(Event{Kind: EventConnecting, Connecting: false})
		m.emit(Event{Kind: EventClosed, Code: websocket.CloseNormalClosure, Reason: "session stopped"})
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.mu.Unlock()

	m.emit(Event{Kind: EventConnecting, Connecting: false})
	m.emit(Event{Kind: EventOpen})
	go m.readLoop(conn)
}

func (m *Manager) endpointURL() string {
	q := url.Values{}
	q.Set("model", m.cfg.Model)
	q.Set("diarize", strconv.FormatBool(m.cfg.Diarize))
	return m.cfg.Endpoint + "?" + q.Encode()
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := ""
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
				reason = ce.Text
			}

			m.mu.Lock()
			m.state = StateClosed
			if m.conn == conn {
				m.conn = nil
			}
			m.mu.Unlock()
			conn.Close()

			m.emit(Event{Kind: EventClosed, Code: code, Reason: reason})
			return
		}
		m.emit(Event{Kind: EventMessage, Payload: msg})
	}
}

// Send forwards one binary audio payload. Dropping when the connection
// is not open is deliberate best-effort policy: chunks are never queued
// across the socket boundary.
func (m *Manager) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen || m.conn == nil {
		log.Printf("transport: connection not open, dropping %d byte chunk", len(data))
		return
	}
	if err := m.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		log.Printf("transport: send failed, dropping chunk: %v", err)
	}
}

// Disconnect initiates a graceful close carrying the given code and
// reason. It never blocks on the close handshake and is a no-op when
// already closed. A Disconnect issued while still connecting marks the
// in-flight handshake for immediate teardown once it resolves.
func (m *Manager) Disconnect(code int, reason string) {
	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.aborted = true
		m.mu.Unlock()
		return
	case StateOpen:
		m.state = StateClosing
		conn := m.conn
		m.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			log.Printf("transport: close handshake write failed: %v", err)
		}
		// Bound the wait for the peer's close reply; the read loop emits
		// the final closed event either way.
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		return
	default:
		m.mu.Unlock()
	}
}
