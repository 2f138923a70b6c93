package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	maxBufferedAmount  = 1 << 20
	lowBufferThreshold = 256 << 10
)

// Signaler carries session descriptions and trickled candidates to the
// remote device.
type Signaler interface {
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendCandidate(to string, candidate webrtc.ICECandidateInit) error
}

type SessionConfig struct {
	LocalID    string
	RemoteID   string
	ICEServers []string
	Signaler   Signaler
	Handlers   Handlers
	Logger     *logrus.Entry
}

// Session is one peer connection with one ordered data channel.
type Session struct {
	cfg       SessionConfig
	pc        *webrtc.PeerConnection
	log       *logrus.Entry
	initiator bool

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	peer      *Peer
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	// local candidates held until our description has been sent
	localSent bool
	outbound  []webrtc.ICECandidateInit

	open      chan struct{}
	openOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	drained   chan struct{}
}

func newSession(cfg SessionConfig, initiator bool) (*Session, error) {
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("session requires a signaler")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	pc, err := webrtc.NewPeerConnection(ICEConfig(cfg.ICEServers))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		pc:        pc,
		log:       cfg.Logger.WithField("remote", cfg.RemoteID),
		initiator: initiator,
		open:      make(chan struct{}),
		done:      make(chan struct{}),
		drained:   make(chan struct{}, 1),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		s.mu.Lock()
		if !s.localSent {
			s.outbound = append(s.outbound, cand)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.sendCandidate(cand)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.WithField("state", state.String()).Debug("Peer connection state changed")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.finish()
		}
	})

	if !initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			s.attach(dc)
		})
	}
	return s, nil
}

// Dial starts a session as the initiator: it opens the data channel and
// sends an offer.
func Dial(cfg SessionConfig) (*Session, error) {
	s, err := newSession(cfg, true)
	if err != nil {
		return nil, err
	}

	dc, err := s.pc.CreateDataChannel(ChannelLabel, DataChannelConfig())
	if err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	s.attach(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	if err := cfg.Signaler.SendOffer(cfg.RemoteID, offer.SDP); err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}
	s.flushOutbound()
	return s, nil
}

// Accept answers a received offer.
func Accept(cfg SessionConfig, offerSDP string) (*Session, error) {
	s, err := newSession(cfg, false)
	if err != nil {
		return nil, err
	}

	if err := s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		_ = s.pc.Close()
		return nil, err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	if err := cfg.Signaler.SendAnswer(cfg.RemoteID, answer.SDP); err != nil {
		_ = s.pc.Close()
		return nil, fmt.Errorf("failed to send answer: %w", err)
	}
	s.flushOutbound()
	return s, nil
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	if err := s.cfg.Signaler.SendCandidate(s.cfg.RemoteID, c); err != nil {
		s.log.WithError(err).Warn("Failed to send ICE candidate")
	}
}

func (s *Session) flushOutbound() {
	s.mu.Lock()
	s.localSent = true
	held := s.outbound
	s.outbound = nil
	s.mu.Unlock()

	for _, c := range held {
		s.sendCandidate(c)
	}
}

func (s *Session) RemoteID() string { return s.cfg.RemoteID }

func (s *Session) Initiator() bool { return s.initiator }

// HandleAnswer applies the responder's answer.
func (s *Session) HandleAnswer(sdp string) error {
	if !s.initiator {
		return fmt.Errorf("unexpected answer on responding session")
	}
	return s.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// HandleCandidate applies a remote candidate, queueing it until the remote
// description is set.
func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.WithError(err).Warn("Failed to add queued ICE candidate")
		}
	}
	return nil
}

func (s *Session) attach(dc *webrtc.DataChannel) {
	ch := &dataChannel{dc: dc, drained: s.drained, done: s.done}
	peer := NewPeer(ch, s.cfg.LocalID, s.cfg.RemoteID, s.cfg.Handlers, s.log)

	s.mu.Lock()
	s.dc = dc
	s.peer = peer
	s.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(lowBufferThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(func() {
		s.log.WithField("label", dc.Label()).Info("Data channel open")
		s.openOnce.Do(func() { close(s.open) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		peer.HandleMessage(msg.Data, msg.IsString)
	})
	dc.OnClose(func() {
		peer.Close()
		s.finish()
	})
}

// WaitOpen blocks until the data channel is open, the session ends or ctx
// is done.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.open:
		return nil
	case <-s.done:
		return ErrChannelNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOpen reports whether the data channel has opened.
func (s *Session) IsOpen() bool {
	select {
	case <-s.open:
		return true
	default:
		return false
	}
}

func (s *Session) readyPeer() (*Peer, error) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil || !s.IsOpen() {
		return nil, ErrChannelNotReady
	}
	return peer, nil
}

func (s *Session) SendFile(ctx context.Context, name, mimeType string, r io.Reader, size int64, onProgress ProgressFunc) error {
	peer, err := s.readyPeer()
	if err != nil {
		return err
	}
	return peer.SendFile(ctx, name, mimeType, r, size, onProgress)
}

func (s *Session) SendMessage(content string) error {
	peer, err := s.readyPeer()
	if err != nil {
		return err
	}
	return peer.SendMessage(content)
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	err := s.pc.Close()
	s.finish()
	return err
}

func (s *Session) finish() {
	s.closeOnce.Do(func() { close(s.done) })
}

// dataChannel paces binary sends on the channel's buffered amount.
type dataChannel struct {
	dc      *webrtc.DataChannel
	drained <-chan struct{}
	done    <-chan struct{}
}

func (c *dataChannel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotReady
	}
	for c.dc.BufferedAmount() > maxBufferedAmount {
		select {
		case <-c.drained:
		case <-c.done:
			return ErrChannelNotReady
		}
	}
	return c.dc.Send(data)
}

func (c *dataChannel) SendText(text string) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotReady
	}
	return c.dc.SendText(text)
}
