// Package engine exposes the admin-facing mutation operations. Every
// operation follows the same shape: commit the change to the local snapshot
// synchronously, then fire the corresponding backend writes asynchronously.
// The two effects are not transactional; a remote write can fail after the
// local change took effect, in which case the failure surfaces as the
// most-recent-error banner and is never retried automatically.
package engine

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/localstate"
	"github.com/setsync/setsync/internal/core/model"
	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/core/overlay"
	"github.com/setsync/setsync/internal/core/state"
)

// Engine wires the mutation store, the backend, and the overlay writer.
type Engine struct {
	store   *state.Store
	backend backend.Store
	writer  *overlay.Writer
	local   *localstate.Store
	tenant  string
	logger  log.Log

	writes sync.WaitGroup
}

// New creates an engine. local may be nil.
func New(st *state.Store, be backend.Store, local *localstate.Store, tenant string, logger log.Log) *Engine {
	return &Engine{
		store:   st,
		backend: be,
		writer:  overlay.NewWriter(be, logger),
		local:   local,
		tenant:  tenant,
		logger:  logger.With(log.String("component", "engine")),
	}
}

// Store exposes the underlying mutation store.
func (e *Engine) Store() *state.Store { return e.store }

// Flush blocks until every in-flight backend write has completed. The
// engine never waits on its own writes; this exists for orderly shutdown
// and tests.
func (e *Engine) Flush() { e.writes.Wait() }

// Undo reverts the most recent local mutation. Local-only: remote writes
// already issued by the undone mutation are not retracted.
func (e *Engine) Undo() bool { return e.store.UndoLast() }

// newID generates a client-side row identity so the optimistic local state
// and the eventual remote row agree.
func newID() string { return ulid.Make().String() }

// stamp adds the tenant to a row's fields.
func (e *Engine) stamp(fields map[string]string) map[string]string {
	if e.tenant != "" {
		fields[backend.FieldTenant] = e.tenant
	}
	return fields
}

// async runs a backend write in the background. Failures raise the banner;
// there is no retry and no rollback of the already-applied local change.
func (e *Engine) async(label string, fn func(ctx context.Context) error) {
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()
		if err := fn(context.Background()); err != nil {
			e.logger.Error("Backend write failed",
				log.String("op", label),
				log.Error(err))
			e.store.SetLastError(err.Error())
		}
	}()
}

// Sections returns the configured section labels for a gig: every section
// named by one of the gig's overrides plus the descriptive tag catalog,
// reordered by the device-local manual ordering when one was saved.
func (e *Engine) Sections(gigID string) []string {
	var labels []string
	seen := make(map[string]struct{})
	add := func(label string) {
		if label == "" {
			return
		}
		if _, ok := seen[label]; ok {
			return
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}

	if e.local != nil {
		for _, s := range e.local.SectionOrder(gigID) {
			add(s)
		}
	}
	e.store.View(func(st *model.AppState) {
		for key, section := range st.SectionOverrides {
			if key.GigID == gigID {
				add(section)
			}
		}
		for _, tag := range st.TagCatalog {
			add(tag)
		}
	})
	return labels
}

// EffectiveSection resolves the section for a (gig, song) pair against the
// current snapshot.
func (e *Engine) EffectiveSection(gigID, songID string) (string, bool) {
	sections := e.Sections(gigID)
	var section string
	var ok bool
	e.store.View(func(st *model.AppState) {
		section, ok = overlay.EffectiveSection(st, gigID, songID, sections)
	})
	return section, ok
}

// EffectiveKeys resolves singer keys for a (gig, song) pair against the
// current snapshot.
func (e *Engine) EffectiveKeys(gigID, songID string) map[string]string {
	var keys map[string]string
	e.store.View(func(st *model.AppState) {
		keys = overlay.EffectiveKeys(st, gigID, songID)
	})
	return keys
}
