// Package node is the device side of peerdrop: it keeps the relay
// connection, negotiates peer sessions and falls back to relayed delivery.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/peerdrop/internal/config"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
)

var (
	ErrDeclined   = errors.New("node: transfer declined")
	ErrNoResponse = errors.New("node: peer did not answer the transfer request")
	ErrNoDeviceID = errors.New("node: device id is required")

	// ErrTooLargeForRelay means the file cannot fit one direct-file frame.
	ErrTooLargeForRelay = errors.New("node: file too large for relay delivery")
)

const defaultRequestTimeout = 30 * time.Second

type Options struct {
	Config config.ClientConfig
	Logger *logrus.Entry
	// API records transfers; nil disables records.
	API    *APIClient
	Dialer *websocket.Dialer

	// Room is joined on every (re)connect when RoomID or RoomName is set.
	RoomID   string
	RoomName string
	Password string

	// RelayOnly skips peer sessions and always delivers through the relay.
	RelayOnly bool
	// RequestTimeout bounds the wait for a transfer-response.
	RequestTimeout time.Duration

	// Accept decides incoming transfer requests; nil accepts everything.
	Accept     func(protocol.TransferRequest) bool
	OnFile     func(transfer.File)
	OnMessage  func(transfer.Message)
	OnProgress func(peerID string, progress float64)
	OnRoom     func(protocol.RoomJoined)
	OnDevices  func(protocol.DeviceListUpdate)
	OnState    func(signaling.State)
}

type Client struct {
	opts    Options
	id      string
	log     *logrus.Entry
	codec   *protocol.Codec
	manager sender
	api     *APIClient

	mu       sync.Mutex
	sessions map[string]*transfer.Session
	pending  map[string]chan protocol.TransferResponse
	// answers and candidates that beat their session's registration
	early map[string][]protocol.Message
	room  string
}

// sender is the slice of the connection manager the client writes through.
type sender interface {
	Start()
	Stop()
	Send(msg protocol.Message) error
	State() signaling.State
}

func New(opts Options) (*Client, error) {
	if opts.Config.DeviceID == "" {
		return nil, ErrNoDeviceID
	}
	if opts.Config.FallbackTimeout <= 0 {
		opts.Config.FallbackTimeout = config.DefaultFallbackTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Client{
		opts:     opts,
		id:       opts.Config.DeviceID,
		log:      log.WithField("device", opts.Config.DeviceID),
		codec:    protocol.NewCodec(),
		api:      opts.API,
		sessions: make(map[string]*transfer.Session),
		pending:  make(map[string]chan protocol.TransferResponse),
		early:    make(map[string][]protocol.Message),
		room:     opts.RoomID,
	}

	c.manager = signaling.NewManager(signaling.Config{
		URL:           opts.Config.RelayURL,
		Class:         signaling.ClassFromDeviceType(opts.Config.DeviceType),
		DeviceID:      c.id,
		Dialer:        opts.Dialer,
		Logger:        log.WithField("component", "signaling"),
		OnConnect:     c.announce,
		OnMessage:     c.handleFrame,
		OnStateChange: opts.OnState,
	})
	return c, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) Start() { c.manager.Start() }

// Stop disconnects and closes every peer session.
func (c *Client) Stop() {
	c.manager.Stop()

	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*transfer.Session)
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

func (c *Client) Connected() bool {
	return c.manager.State() == signaling.StateOpen
}

// announce runs on every open: it re-registers the device and rejoins the
// current room.
func (c *Client) announce() {
	name := c.opts.Config.DeviceName
	deviceType := c.opts.Config.DeviceType
	update := protocol.DeviceUpdate{DeviceID: c.id}
	if name != "" {
		update.Name = &name
	}
	if deviceType != "" {
		update.DeviceType = &deviceType
	}
	if err := c.manager.Send(update); err != nil {
		c.log.WithError(err).Warn("Failed to announce device")
		return
	}

	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room != "" || c.opts.RoomName != "" {
		if err := c.JoinRoom(room, c.opts.RoomName, c.opts.Password); err != nil {
			c.log.WithError(err).Warn("Failed to rejoin room")
		}
	}
}

func (c *Client) JoinRoom(roomID, roomName, password string) error {
	return c.manager.Send(protocol.JoinRoom{DeviceID: c.id, RoomID: roomID, RoomName: roomName, Password: password})
}

func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	c.room = ""
	c.mu.Unlock()
	return c.manager.Send(protocol.LeaveRoom{DeviceID: c.id})
}

func (c *Client) RequestRoomDevices() error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	return c.manager.Send(protocol.RoomDevices{RoomID: room})
}

// Room is the room the relay last confirmed.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) session(peerID string) *transfer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[peerID]
}

const maxEarlySignals = 64

// sessionOrStash returns the peer's session, or holds m until one is
// registered.
func (c *Client) sessionOrStash(peerID string, m protocol.Message) *transfer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.sessions[peerID]; s != nil {
		return s
	}
	if len(c.early[peerID]) < maxEarlySignals {
		c.early[peerID] = append(c.early[peerID], m)
	}
	return nil
}

func (c *Client) setSession(peerID string, s *transfer.Session) {
	c.mu.Lock()
	old := c.sessions[peerID]
	c.sessions[peerID] = s
	held := c.early[peerID]
	delete(c.early, peerID)
	c.mu.Unlock()

	if old != nil && old != s {
		_ = old.Close()
	}
	for _, m := range held {
		c.applySignal(s, m)
	}
	go func() {
		<-s.Done()
		c.mu.Lock()
		if c.sessions[peerID] == s {
			delete(c.sessions, peerID)
		}
		c.mu.Unlock()
	}()
}

func (c *Client) sessionConfig(peerID string) transfer.SessionConfig {
	return transfer.SessionConfig{
		LocalID:    c.id,
		RemoteID:   peerID,
		ICEServers: c.opts.Config.STUNServers,
		Signaler:   relaySignaler{c: c},
		Logger:     c.log.WithField("component", "session"),
		Handlers: transfer.Handlers{
			OnFile:    c.deliverFile,
			OnMessage: c.deliverMessage,
			OnProgress: func(p float64) {
				c.progress(peerID, p)
			},
		},
	}
}

func (c *Client) deliverFile(f transfer.File) {
	if c.opts.OnFile != nil {
		c.opts.OnFile(f)
	}
}

func (c *Client) deliverMessage(m transfer.Message) {
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(m)
	}
}

func (c *Client) progress(peerID string, p float64) {
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(peerID, p)
	}
}

// requestTransfer asks the peer through the relay and waits for its answer.
func (c *Client) requestTransfer(ctx context.Context, req protocol.TransferRequest) error {
	reply := make(chan protocol.TransferResponse, 1)
	c.mu.Lock()
	c.pending[req.RequestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	if err := c.manager.Send(req); err != nil {
		return fmt.Errorf("failed to send transfer request: %w", err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		if !resp.Accepted {
			return ErrDeclined
		}
		return nil
	case <-timer.C:
		return ErrNoResponse
	case <-ctx.Done():
		return ctx.Err()
	}
}

// relaySignaler routes session signaling through the relay connection.
type relaySignaler struct {
	c *Client
}

func (s relaySignaler) SendOffer(to, sdp string) error {
	return s.c.manager.Send(protocol.Offer{From: s.c.id, To: to, SDP: sdp})
}

func (s relaySignaler) SendAnswer(to, sdp string) error {
	return s.c.manager.Send(protocol.Answer{From: s.c.id, To: to, SDP: sdp})
}

func (s relaySignaler) SendCandidate(to string, cand webrtc.ICECandidateInit) error {
	return s.c.manager.Send(protocol.ICECandidate{
		From:             s.c.id,
		To:               to,
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}
