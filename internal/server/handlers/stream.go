package handlers

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
	"github.com/cambiowatch/cambiowatch/internal/server/middleware"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 2 * streamPingPeriod
)

// SnapshotSource publishes every state change to subscribers.
type SnapshotSource interface {
	Load() core.Snapshot
	Subscribe() (<-chan core.Snapshot, func())
}

// Stream pushes the current snapshot to websocket clients: once on connect,
// then on every state change.
type Stream struct {
	Source         SnapshotSource
	Logger         engine.Logger
	AllowedOrigins []string

	clients  atomic.Int64
	upgrader websocket.Upgrader
	done     chan struct{}
	stopOnce sync.Once
}

// NewStream builds a stream handler. Browsers must send an allowed Origin;
// clients without one are accepted.
func NewStream(source SnapshotSource, allowedOrigins []string, logger engine.Logger) *Stream {
	s := &Stream{Source: source, Logger: logger, AllowedOrigins: allowedOrigins, done: make(chan struct{})}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(r.Header.Get("Origin"), s.AllowedOrigins)
		},
	}
	return s
}

// Close disconnects every client. http.Server.Shutdown does not track
// hijacked connections, so the server calls this before shutting down.
func (s *Stream) Close() {
	if s.done == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.done) })
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	return int(s.clients.Load())
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Debug("Stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.SetStreamClients(int(s.clients.Add(1)))
	defer func() { metrics.SetStreamClients(int(s.clients.Add(-1))) }()

	updates, cancel := s.Source.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, s.Source.Load()); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				log.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap core.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ratesResponse(snap))
}
