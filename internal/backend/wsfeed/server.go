package wsfeed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/poloBBQ/chatsync/internal/chat"
	"github.com/poloBBQ/chatsync/internal/logging"
)

const (
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 20 * time.Second
	defaultWriteWait  = 10 * time.Second
	maxClientMessage  = 4096
)

// Source opens the event stream for one connected user. The stream ends
// when ctx is cancelled or the source closes the channel.
type Source func(ctx context.Context, userID string) (<-chan chat.Event, error)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPingPeriod sets how often the server pings idle clients. The read
// deadline is three ping periods.
func WithPingPeriod(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pingPeriod = d
			s.pongWait = 3 * d
		}
	}
}

// WithCheckOrigin replaces the default same-host origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Server streams events to WebSocket clients. Clients identify themselves
// with the user_id query parameter; anything they send is ignored.
type Server struct {
	source     Source
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	pingPeriod time.Duration
	pongWait   time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewServer creates a server fed by source.
func NewServer(source Source, opts ...ServerOption) *Server {
	s := &Server{
		source: source,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
		},
		logger:     logging.Component("wsfeed"),
		pingPeriod: defaultPingPeriod,
		pongWait:   defaultPongWait,
		conns:      make(map[*websocket.Conn]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and streams events until either side goes
// away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	logger := logging.WithUser(s.logger, userID)
	wmu := s.track(conn)
	defer s.untrack(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.source(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open event source")
		s.closeConn(conn, wmu, websocket.CloseInternalServerErr, "event source unavailable")
		return
	}
	logger.Info().Msg("feed client connected")

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug().Err(err).Msg("feed client read ended")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeConn(conn, wmu, websocket.CloseNormalClosure, "")
			logger.Info().Msg("feed client disconnected")
			return
		case <-ticker.C:
			wmu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wmu.Unlock()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				s.closeConn(conn, wmu, websocket.CloseNormalClosure, "feed ended")
				return
			}
			if err := s.send(conn, wmu, ev); err != nil {
				logger.Warn().Err(err).Str("event", chat.EventName(ev)).Msg("failed to send event")
				return
			}
		}
	}
}

// Shutdown tells every connected client the server is going away.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, m := range s.conns {
		conns[c] = m
	}
	s.mu.Unlock()

	for c, m := range conns {
		s.closeConn(c, m, websocket.CloseGoingAway, "server shutdown")
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) send(conn *websocket.Conn, wmu *sync.Mutex, ev chat.Event) error {
	env, err := Wrap(ev)
	if err != nil {
		return err
	}
	wmu.Lock()
	defer wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := encodeEnvelope(w, env); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *Server) closeConn(conn *websocket.Conn, wmu *sync.Mutex, code int, reason string) {
	wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	wmu.Unlock()
	_ = conn.Close()
}

func (s *Server) track(conn *websocket.Conn) *sync.Mutex {
	m := &sync.Mutex{}
	s.mu.Lock()
	s.conns[conn] = m
	s.mu.Unlock()
	return m
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
