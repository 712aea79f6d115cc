// Package state owns the single in-memory snapshot of application state,
// the undo history stack, and the role gate in front of local mutation.
//
// A committed mutation takes effect locally before, and independently of,
// the corresponding remote write. Undo pops one history entry and restores
// the local view exactly; it never issues compensating remote writes, so a
// write already in flight from the undone mutation is not retracted.
package state

import (
	"reflect"
	"sync"
	"time"

	"github.com/setsync/setsync/internal/core/model"
	"github.com/setsync/setsync/internal/core/observability/log"
)

// Role is the acting user's role. Only admins may mutate.
type Role uint8

const (
	RoleGuest Role = iota
	RoleMember
	RoleAdmin
)

// Store holds the snapshot. Mutation handlers run to completion under the
// lock; the reconciler and the now-playing poller may replace the snapshot
// wholesale but never partially mutate a live one.
type Store struct {
	mu      sync.Mutex
	current *model.AppState
	history []model.HistoryEntry
	role    Role
	logger  log.Log
}

// NewStore creates a store with an empty snapshot.
func NewStore(role Role, logger log.Log) *Store {
	return &Store{
		current: model.NewAppState(),
		role:    role,
		logger:  logger.With(log.String("component", "state")),
	}
}

// SetRole changes the acting role.
func (s *Store) SetRole(role Role) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

// CommitChange applies update to the snapshot and pushes the prior state
// onto the history stack. It reports whether the mutation was applied;
// non-admin attempts are silently rejected, and an update that leaves the
// snapshot unchanged pushes no history entry, so undo depth tracks real
// mutations. The caller issues any remote writes afterwards, asynchronously
// and non-transactionally with the local commit.
func (s *Store) CommitChange(label string, update func(st *model.AppState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleAdmin {
		s.logger.Debug("Mutation rejected", log.String("label", label))
		return false
	}

	prior := s.current.Clone()
	next := s.current.Clone()
	update(next)

	if reflect.DeepEqual(prior, next) {
		s.logger.Debug("Mutation was a no-op", log.String("label", label))
		return false
	}

	s.history = append(s.history, model.HistoryEntry{
		Label: label,
		State: prior,
		At:    time.Now(),
	})
	s.current = next

	s.logger.Debug("Mutation committed",
		log.String("label", label),
		log.Int("history_depth", len(s.history)))
	return true
}

// UndoLast pops the most recent history entry and restores its state as the
// current snapshot. No-op on an empty stack. Local-only: remote writes
// already sent by the undone mutation stand.
func (s *Store) UndoLast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return false
	}

	entry := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.current = entry.State

	s.logger.Debug("Mutation undone",
		log.String("label", entry.Label),
		log.Int("history_depth", len(s.history)))
	return true
}

// Replace swaps in a freshly rebuilt snapshot. Used by the reconciler after
// a full reload; derived catalogs are replaced in this single call. The
// undo history is left alone: its entries describe local edits, and
// restoring one after a reload is the documented local-only undo behavior.
func (s *Store) Replace(next *model.AppState) {
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

// ApplyRemote folds remotely observed data into the snapshot without a
// history entry and without the role gate. Used by the now-playing poller;
// remote observations are not local edits and must not be undoable.
func (s *Store) ApplyRemote(fn func(st *model.AppState)) {
	s.mu.Lock()
	next := s.current.Clone()
	fn(next)
	s.current = next
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// View runs fn against the live snapshot under the lock. fn must not retain
// or mutate the state.
func (s *Store) View(fn func(st *model.AppState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.current)
}

// HistoryDepth returns the undo stack depth.
func (s *Store) HistoryDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// SetLastError records the most recent backend write error for the banner.
// It bypasses the history stack: an error banner is not an undoable edit.
func (s *Store) SetLastError(msg string) {
	s.mu.Lock()
	s.current.LastError = msg
	s.mu.Unlock()
}
