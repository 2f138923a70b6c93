// Package signaling keeps one logical WebSocket to the relay alive for a
// client: reconnect with backoff, heartbeat, and foreground/online recovery.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("signaling: not connected")

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "closed"
}

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

type Config struct {
	URL      string
	Class    ClientClass
	DeviceID string
	Dialer   *websocket.Dialer
	Logger   *logrus.Entry

	// Heartbeat defaults to HeartbeatInterval.
	Heartbeat time.Duration

	// OnConnect runs after each successful open, typically to announce the
	// device again.
	OnConnect func()
	// OnMessage receives every well-formed inbound frame.
	OnMessage func(header protocol.Header, data []byte)
	// OnStateChange observes state transitions.
	OnStateChange func(State)
}

type scheduleFunc func(d time.Duration, f func()) *time.Timer

type Manager struct {
	cfg    Config
	log    *logrus.Entry
	codec  *protocol.Codec
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	attempts  int
	manual    bool
	timer     *time.Timer
	heartbeat chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu  sync.Mutex
	schedule scheduleFunc
}

func NewManager(cfg Config) *Manager {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = HeartbeatInterval
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}

	return &Manager{
		cfg:      cfg,
		log:      log,
		codec:    protocol.NewCodec(),
		dialer:   dialer,
		manual:   true,
		schedule: time.AfterFunc,
	}
}

// Start begins connecting. It returns immediately.
func (m *Manager) Start() {
	m.mu.Lock()
	if !m.manual {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.attempts = 0
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.connect()
}

// Stop is Disconnect; it is safe to call more than once.
func (m *Manager) Stop() {
	m.Disconnect()
}

// Disconnect cancels every timer, closes the socket with a normal close code
// and suppresses automatic reconnection until the next Start.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.stopHeartbeatLocked()
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	changed := m.setStateLocked(StateClosed)
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(writeWait))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.notifyState(changed, StateClosed)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// NotifyForeground reconnects when the app returns to the foreground and
// the socket is not open.
func (m *Manager) NotifyForeground() {
	m.recover("foreground")
}

// NotifyOnline reconnects when the network comes back and the socket is
// not open.
func (m *Manager) NotifyOnline() {
	m.recover("online")
}

func (m *Manager) recover(reason string) {
	m.mu.Lock()
	if m.manual || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.log.WithField("reason", reason).Info("Reconnecting signaling socket")
	m.connect()
}

// connect starts a dial unless one is in flight or the socket is open.
func (m *Manager) connect() {
	m.mu.Lock()
	if m.manual || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	changed := m.setStateLocked(StateConnecting)
	ctx := m.ctx
	m.mu.Unlock()

	m.notifyState(changed, StateConnecting)
	go m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) {
	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)

	m.mu.Lock()
	// a Disconnect, and possibly a new Start, happened while dialing
	if m.manual || m.ctx != ctx {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		changed := m.setStateLocked(StateClosed)
		m.mu.Unlock()
		m.notifyState(changed, StateClosed)

		m.log.WithError(err).WithField("url", m.cfg.URL).Warn("Failed to connect to relay")
		m.scheduleReconnect()
		return
	}
	conn.SetReadLimit(protocol.MaxFrameSize)
	m.conn = conn
	m.attempts = 0
	changed := m.setStateLocked(StateOpen)
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.log.WithField("url", m.cfg.URL).Info("Connected to relay")
	m.notifyState(changed, StateOpen)
	if m.cfg.OnConnect != nil {
		m.cfg.OnConnect()
	}

	go m.readLoop(conn)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}

		header, err := m.codec.DecodeHeader(data)
		if err != nil {
			m.log.WithError(err).Warn("Dropping malformed frame from relay")
			continue
		}
		if m.cfg.OnMessage != nil {
			m.cfg.OnMessage(header, data)
		}
	}
}

func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopHeartbeatLocked()
	changed := m.setStateLocked(StateClosed)
	manual := m.manual
	m.mu.Unlock()

	_ = conn.Close()
	m.notifyState(changed, StateClosed)

	if manual {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.log.Info("Relay closed the connection normally")
		return
	}

	m.log.WithError(err).Warn("Signaling connection lost")
	m.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer, replacing any pending
// one, unless the attempt cap has been reached.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manual {
		return
	}
	delay, ok := ReconnectDelay(m.attempts, m.cfg.Class)
	if !ok {
		m.log.WithField("attempts", m.attempts).Warn("Giving up on relay reconnection")
		return
	}
	m.attempts++

	if m.timer != nil {
		m.timer.Stop()
	}
	m.log.WithField("attempt", m.attempts).WithField("delay", delay).Debug("Scheduling reconnect")
	m.timer = m.schedule(delay, m.connect)
}

// Send encodes msg and writes it to the open socket.
func (m *Manager) Send(msg protocol.Message) error {
	data, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}
	return m.SendRaw(data)
}

func (m *Manager) SendRaw(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		m.log.Warn("Signaling socket not open, skipping send")
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.heartbeat = stop

	go func() {
		ticker := time.NewTicker(m.cfg.Heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Send(protocol.Ping{DeviceID: m.cfg.DeviceID, Timestamp: time.Now().UnixMilli()}); err != nil {
					m.log.WithError(err).Debug("Heartbeat failed")
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		close(m.heartbeat)
		m.heartbeat = nil
	}
}

func (m *Manager) setStateLocked(s State) bool {
	if m.state == s {
		return false
	}
	m.state = s
	return true
}

func (m *Manager) notifyState(changed bool, s State) {
	if changed && m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s)
	}
}
