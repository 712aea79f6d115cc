// Package server implements the backend collection service: a websocket
// endpoint that persists the shared collections in a MemoryStore and pushes
// a change frame to every connected client whenever any collection mutates.
// The service holds no planning semantics; encoded section tokens pass
// through it as opaque tag rows.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/events"
	"github.com/setsync/setsync/internal/core/observability/log"
)

// Server owns the collection store and the set of connected clients.
type Server struct {
	store  *backend.MemoryStore
	bus    *events.Bus
	token  string
	logger log.Log

	mu      sync.Mutex
	clients map[string]*client

	running atomic.Bool
	subs    []events.Subscription
}

// NewServer creates a server around a fresh in-memory collection store.
// token, when non-empty, is required from every connecting client.
func NewServer(token string, logger log.Log) *Server {
	bus := events.NewBus()
	return &Server{
		store:   backend.NewMemoryStore(bus),
		bus:     bus,
		token:   token,
		logger:  logger.With(log.String("component", "server")),
		clients: make(map[string]*client),
	}
}

// Store exposes the underlying collection store, mainly for seeding.
func (s *Server) Store() *backend.MemoryStore { return s.store }

// Start subscribes the broadcast fan-out to collection changes.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	sub, err := s.bus.Subscribe(events.AllCollections, s.broadcast)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Stop cancels the fan-out and disconnects every client.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerClosed
	}
	for _, sub := range s.subs {
		_ = sub.Cancel()
	}
	s.subs = nil

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	return nil
}

// broadcast pushes a change frame to every connected client. Clients whose
// connection fails are dropped; the next reload will resynchronize them.
func (s *Server) broadcast(collection string) error {
	f := backend.Frame{Op: backend.OpChange, Collection: collection}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(f); err != nil {
			s.logger.Warn("Dropping client after failed push",
				log.String("client", c.id),
				log.Error(err))
			s.remove(c)
		}
	}
	return nil
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = c.conn.Close()
}

// handle executes one request frame against the store and builds the
// response. The response always echoes the request seq.
func (s *Server) handle(ctx context.Context, req backend.Frame) backend.Frame {
	resp := backend.Frame{Seq: req.Seq, Op: req.Op, Collection: req.Collection}

	if !knownCollection(req.Collection) {
		resp.Err = ErrUnknownCollection.Error()
		return resp
	}

	switch req.Op {
	case backend.OpList:
		rows, err := s.store.List(ctx, req.Collection)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.Rows = rows

	case backend.OpInsert:
		row, err := s.store.Insert(ctx, req.Collection, req.ID, req.Fields)
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.Row = &row

	case backend.OpUpdate:
		if err := s.store.Update(ctx, req.Collection, req.ID, req.Fields); err != nil {
			resp.Err = err.Error()
		}

	case backend.OpUpsert:
		if err := s.store.Upsert(ctx, req.Collection, backend.Filter(req.Filter), req.Fields); err != nil {
			resp.Err = err.Error()
		}

	case backend.OpDelete:
		n, err := s.store.Delete(ctx, req.Collection, backend.Filter(req.Filter))
		if err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.Count = n

	default:
		resp.Err = ErrUnknownOp.Error()
	}
	return resp
}

func knownCollection(name string) bool {
	for _, c := range backend.Tracked() {
		if c == name {
			return true
		}
	}
	return false
}

// client is one connected websocket peer. Writes are serialized; gorilla
// connections allow a single concurrent writer.
type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) send(f backend.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}
