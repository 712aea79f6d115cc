package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/setsync/setsync/internal/core/events"
	"github.com/setsync/setsync/internal/core/observability/log"
)

var _ Store = (*RemoteStore)(nil)

// RemoteStore speaks the backend collection protocol over a single
// websocket connection. CRUD calls are request/response correlated by seq;
// change notifications are pushed by the server and fanned out on an
// in-process bus.
type RemoteStore struct {
	conn   *websocket.Conn
	bus    *events.Bus
	logger log.Log

	writeMu sync.Mutex
	seq     atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan Frame

	closed  atomic.Bool
	closeCh chan struct{}
}

// Dial connects to the backend service and starts the read pump.
func Dial(ctx context.Context, addr string, logger log.Log) (*RemoteStore, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", addr, err)
	}

	s := &RemoteStore{
		conn:    conn,
		bus:     events.NewBus(),
		logger:  logger.With(log.String("component", "backend")),
		pending: make(map[uint64]chan Frame),
		closeCh: make(chan struct{}),
	}
	go s.readPump()

	s.logger.Info("Connected to backend", log.String("addr", addr))
	return s, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed via
// closeCh. The response channels are deleted but never closed: the read
// pump may still hold one it fetched before Close ran, and a send on a
// closed channel would panic; the buffered send lands harmlessly instead.
func (s *RemoteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closeCh)
	err := s.conn.Close()

	s.pendingMu.Lock()
	for seq := range s.pending {
		delete(s.pending, seq)
	}
	s.pendingMu.Unlock()

	return err
}

func (s *RemoteStore) List(ctx context.Context, collection string) ([]Row, error) {
	resp, err := s.call(ctx, Frame{Op: OpList, Collection: collection})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (s *RemoteStore) Insert(ctx context.Context, collection, id string, fields map[string]string) (Row, error) {
	resp, err := s.call(ctx, Frame{Op: OpInsert, Collection: collection, ID: id, Fields: fields})
	if err != nil {
		return Row{}, err
	}
	if resp.Row == nil {
		return Row{}, fmt.Errorf("backend: insert into %s returned no row", collection)
	}
	return *resp.Row, nil
}

func (s *RemoteStore) Update(ctx context.Context, collection, id string, fields map[string]string) error {
	_, err := s.call(ctx, Frame{Op: OpUpdate, Collection: collection, ID: id, Fields: fields})
	return err
}

func (s *RemoteStore) Upsert(ctx context.Context, collection string, filter Filter, fields map[string]string) error {
	_, err := s.call(ctx, Frame{Op: OpUpsert, Collection: collection, Filter: filter, Fields: fields})
	return err
}

func (s *RemoteStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	resp, err := s.call(ctx, Frame{Op: OpDelete, Collection: collection, Filter: filter})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (s *RemoteStore) Subscribe(collection string, handler events.Handler) (events.Subscription, error) {
	return s.bus.Subscribe(collection, handler)
}

// call sends a request frame and waits for the matching response.
func (s *RemoteStore) call(ctx context.Context, req Frame) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrClosed
	}

	req.Seq = s.seq.Add(1)
	ch := make(chan Frame, 1)

	s.pendingMu.Lock()
	s.pending[req.Seq] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.Seq)
		s.pendingMu.Unlock()
	}()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("backend: %s %s: %w", req.Op, req.Collection, err)
	}

	select {
	case resp := <-ch:
		if resp.Err != "" {
			return Frame{}, fmt.Errorf("backend: %s %s: %s", req.Op, req.Collection, resp.Err)
		}
		return resp, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.closeCh:
		return Frame{}, ErrClosed
	}
}

// readPump dispatches responses to waiting callers and fans change frames
// into the subscription bus.
func (s *RemoteStore) readPump() {
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if !s.closed.Load() && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Error("Read pump terminated", log.Error(err))
			}
			_ = s.Close()
			return
		}

		if f.Op == OpChange {
			if err := s.bus.Publish(f.Collection); err != nil {
				s.logger.Warn("Change handler failed",
					log.String("collection", f.Collection),
					log.Error(err))
			}
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[f.Seq]
		s.pendingMu.Unlock()
		if ok {
			ch <- f
		}
	}
}
