// Package reconcile rebuilds every derived catalog from a fresh full read
// of the backend collections whenever any of them reports a change. The
// change notification names only the collection, never the delta, so
// reconciliation is always a full reload followed by one wholesale snapshot
// replacement.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/events"
	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/core/state"
	"github.com/setsync/setsync/pkg/concurrent"
	"github.com/setsync/setsync/pkg/sequence"
)

// Reconciler is a two-state machine: Idle until a change notification
// arrives, Reloading while a full fetch and rebuild is in progress.
// Notifications landing mid-reload mark the cycle dirty so one more pass
// runs afterwards. Concurrent triggers collapse into a single reload.
//
// No generation counter guards a cycle against a newer local mutation
// issued mid-reload; a slow reload response can overwrite a fresher local
// edit that has not round-tripped yet. That race is inherited from the
// full-reload protocol and deliberately left visible.
type Reconciler struct {
	store   *state.Store
	backend backend.Store
	tenant  string
	logger  log.Log

	flight    singleflight.Group
	reloading atomic.Bool
	dirty     atomic.Bool
	trigger   chan struct{}

	subs []events.Subscription
}

// New creates a reconciler. tenant scopes reloads; rows stamped with a
// different tenant are ignored.
func New(store *state.Store, be backend.Store, tenant string, logger log.Log) *Reconciler {
	return &Reconciler{
		store:   store,
		backend: be,
		tenant:  tenant,
		logger:  logger.With(log.String("component", "reconcile")),
		trigger: make(chan struct{}, 1),
	}
}

// Reloading reports whether a reload cycle is in progress.
func (r *Reconciler) Reloading() bool {
	return r.reloading.Load()
}

// Notify records a change notification for a collection and schedules a
// reload. Safe to call from any goroutine; never blocks.
func (r *Reconciler) Notify(collection string) error {
	r.logger.Debug("Change notification", log.String("collection", collection))
	r.dirty.Store(true)
	select {
	case r.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Run subscribes to every tracked collection and serves reload triggers
// until the context is done. Subscriptions are cancelled on exit.
func (r *Reconciler) Run(ctx context.Context) error {
	for _, collection := range backend.Tracked() {
		sub, err := r.backend.Subscribe(collection, r.Notify)
		if err != nil {
			return fmt.Errorf("reconcile: subscribe %s: %w", collection, err)
		}
		r.subs = append(r.subs, sub)
	}
	defer func() {
		for _, sub := range r.subs {
			_ = sub.Cancel()
		}
		r.subs = nil
	}()

	r.logger.Info("Reconciler running", log.Int("collections", len(backend.Tracked())))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.trigger:
			for r.dirty.Swap(false) {
				if err := r.Reload(ctx); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					r.logger.Error("Reload failed", log.Error(err))
				}
			}
		}
	}
}

// Reload performs one full fetch-and-rebuild cycle. Concurrent callers
// share a single in-flight cycle.
func (r *Reconciler) Reload(ctx context.Context) error {
	_, err, _ := r.flight.Do("reload", func() (any, error) {
		return nil, r.reload(ctx)
	})
	return err
}

func (r *Reconciler) reload(ctx context.Context) error {
	r.reloading.Store(true)
	defer r.reloading.Store(false)

	rows, err := r.fetchAll(ctx)
	if err != nil {
		return err
	}

	next := rebuild(rows, r.tenant)

	// The banner is device-local; a reload neither sets nor clears it.
	next.LastError = r.store.Snapshot().LastError

	r.store.Replace(next)

	r.logger.Info("Snapshot rebuilt",
		log.Int("songs", len(next.Songs)),
		log.Int("gigs", len(next.Gigs)),
		log.Int("tags", len(next.TagCatalog)))
	return nil
}

// fetchAll reads every tracked collection concurrently.
func (r *Reconciler) fetchAll(ctx context.Context) (map[string][]backend.Row, error) {
	var mu sync.Mutex
	out := make(map[string][]backend.Row, len(backend.Tracked()))

	err := concurrent.Concurrent(sequence.From(backend.Tracked()), func(collection string) error {
		rows, err := r.backend.List(ctx, collection)
		if err != nil {
			return fmt.Errorf("reconcile: list %s: %w", collection, err)
		}
		mu.Lock()
		out[collection] = rows
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
