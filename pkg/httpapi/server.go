// Package httpapi exposes the controller's Status Snapshot over HTTP and a
// prometheus metrics endpoint, in the teacher's gorilla/mux + gorilla/websocket
// idiom (cmd/announce-webui) generalized from an announcement feed to a
// single-resource status stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cluster-rebalance/executor/pkg/executor"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSource is the subset of *executor.Controller the server depends on.
type StatusSource interface {
	Snapshot() executor.Snapshot
}

// Server serves GET /status, GET /status/ws, and GET /metrics.
type Server struct {
	log      *zap.Logger
	source   StatusSource
	upgrader websocket.Upgrader
	http     *http.Server

	wsMu      sync.RWMutex
	wsClients map[*websocket.Conn]chan executor.Snapshot

	pollInterval time.Duration
	stop         chan struct{}
	stopped      chan struct{}
}

// NewServer builds a Server listening on addr. Call Run to start it and
// Shutdown to stop it; both follow net/http's standard graceful-shutdown
// shape.
func NewServer(log *zap.Logger, addr string, source StatusSource, pollInterval time.Duration) *Server {
	s := &Server{
		log:          log.Named("httpapi"),
		source:       source,
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		wsClients:    make(map[*websocket.Conn]chan executor.Snapshot),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/ws", s.handleStatusWS).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run starts the HTTP listener and the broadcast loop; it blocks until
// Shutdown is called, mirroring http.Server.ListenAndServe's contract.
func (s *Server) Run() error {
	go s.broadcastLoop()
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the broadcast loop and gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	<-s.stopped
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Snapshot()); err != nil {
		s.log.Warn("status encode failed", zap.Error(err))
	}
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientChan := make(chan executor.Snapshot, 8)
	s.wsMu.Lock()
	s.wsClients[conn] = clientChan
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		close(clientChan)
		conn.Close()
	}()

	if err := conn.WriteJSON(s.source.Snapshot()); err != nil {
		return
	}

	go func() {
		for snap := range clientChan {
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcastLoop polls the source on pollInterval and pushes the snapshot to
// every connected client whenever it changes, closing s.stopped once the
// loop has exited so Shutdown can wait on it.
func (s *Server) broadcastLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last executor.Snapshot
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cur := s.source.Snapshot()
			if cur.FetchedAt.Equal(last.FetchedAt) {
				continue
			}
			last = cur

			s.wsMu.RLock()
			for _, ch := range s.wsClients {
				select {
				case ch <- cur:
				default:
				}
			}
			s.wsMu.RUnlock()
		}
	}
}
