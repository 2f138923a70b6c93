package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 90 * time.Second
	eventQueueSize = 256
)

var ErrServerStopped = errors.New("relay: server stopped")

type Config struct {
	OutboxSize     int
	AllowedOrigins []string
	Logger         *logrus.Entry
	Registry       *Registry
	Store          Store
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClose
)

type event struct {
	kind   eventKind
	client *Client
	data   []byte
}

// Server upgrades HTTP requests to signaling sockets and feeds every frame
// into one relay loop.
type Server struct {
	config   Config
	logger   *logrus.Entry
	relay    *Relay
	upgrader websocket.Upgrader
	events   chan event
	stopped  chan struct{}
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		relay:   NewRelay(cfg.Registry, cfg.Store, logger),
		events:  make(chan event, eventQueueSize),
		stopped: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) Relay() *Relay {
	return s.relay
}

// Run processes relay events until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Relay loop started")
	defer func() {
		close(s.stopped)
		s.logger.Info("Relay loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			switch ev.kind {
			case eventFrame:
				s.relay.HandleFrame(ctx, ev.client, ev.data)
			case eventClose:
				s.relay.HandleClose(ctx, ev.client)
			}
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	client := newClient(r.RemoteAddr, s.config.OutboxSize)
	s.logger.WithField("peer", client.remote).Info("Peer connected")

	go s.writePump(conn, client)
	s.readPump(conn, client)
}

func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		_ = conn.Close()
		s.submit(event{kind: eventClose, client: client})
		s.logger.WithField("peer", client.remote).Info("Peer disconnected")
	}()

	conn.SetReadLimit(protocol.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).WithField("peer", client.remote).Debug("Read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		if msgType != websocket.TextMessage {
			s.logger.WithField("peer", client.remote).Warn("Dropping non-text frame")
			continue
		}
		if !s.submit(event{kind: eventFrame, client: client, data: data}) {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-client.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.WithError(err).WithField("peer", client.remote).Warn("Write failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Server) submit(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		if ev.kind == eventClose {
			ev.client.close()
		}
		return false
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
