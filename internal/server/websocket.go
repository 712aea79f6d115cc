package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleSync upgrades the connection and serves request frames until the
// peer disconnects.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", log.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.add(c)
	s.logger.Info("Client connected",
		log.String("client", c.id),
		log.String("remote", conn.RemoteAddr().String()))

	defer func() {
		s.remove(c)
		s.logger.Info("Client disconnected", log.String("client", c.id))
	}()

	for {
		var req backend.Frame
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Client read failed", log.String("client", c.id), log.Error(err))
			}
			return
		}

		resp := s.handle(r.Context(), req)
		if err := c.send(resp); err != nil {
			s.logger.Warn("Client write failed", log.String("client", c.id), log.Error(err))
			return
		}
	}
}

// authorize checks the shared token carried as a query parameter. Websocket
// clients cannot set headers from every runtime, so the query string is the
// contract.
func (s *Server) authorize(r *http.Request) error {
	if s.token == "" {
		return nil
	}
	if r.URL.Query().Get("token") != s.token {
		return ErrUnauthorized
	}
	return nil
}

// HTTPServer binds the sync endpoint to a listening address.
type HTTPServer struct {
	server *http.Server
	sync   *Server
	logger log.Log
}

// NewHTTPServer wires the sync server to an http.Server on addr.
func NewHTTPServer(addr string, sync *Server, logger log.Log) *HTTPServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", sync.handleSync)
	return &HTTPServer{
		server: &http.Server{Addr: addr, Handler: mux},
		sync:   sync,
		logger: logger.With(log.String("component", "http")),
	}
}

// Start begins listening and starts the sync server's fan-out.
func (h *HTTPServer) Start() error {
	if err := h.sync.Start(); err != nil {
		return err
	}
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Listener failed", log.Error(err))
		}
	}()
	h.logger.Info("Listening", log.String("addr", h.server.Addr))
	return nil
}

// Stop shuts down the listener, then the sync server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	if stopErr := h.sync.Stop(); err == nil {
		err = stopErr
	}
	return err
}
