// Package backend defines the row-oriented collection store the engine
// writes to and reloads from. Collections support CRUD filtered by
// exact-match predicates plus a per-collection change subscription that
// reports only that some row changed, never the delta. That coarse signal is
// why reconciliation is always a full reload.
package backend

import (
	"context"
	"errors"

	"github.com/setsync/setsync/internal/core/events"
)

// Tracked collection names.
const (
	CollectionSongs        = "songs"
	CollectionTags         = "tags"
	CollectionKeyBindings  = "keybindings"
	CollectionGigs         = "gigs"
	CollectionGigSongs     = "gig_songs"
	CollectionGigKeys      = "gig_keys"
	CollectionRequests     = "requests"
	CollectionDocuments    = "documents"
	CollectionMusicians    = "musicians"
	CollectionGigMusicians = "gig_musicians"
	CollectionNowPlaying   = "nowplaying"
)

// Tracked returns every collection the reconciler watches and reloads.
// NowPlaying is tracked for reloads but observed by polling, not by the
// change subscription.
func Tracked() []string {
	return []string{
		CollectionSongs,
		CollectionTags,
		CollectionKeyBindings,
		CollectionGigs,
		CollectionGigSongs,
		CollectionGigKeys,
		CollectionRequests,
		CollectionDocuments,
		CollectionMusicians,
		CollectionGigMusicians,
		CollectionNowPlaying,
	}
}

// Common field names used across collections.
const (
	// FieldID is a reserved filter key matched against the row ID rather
	// than a field.
	FieldID      = "id"
	FieldTenant  = "tenant"
	FieldSongID  = "song_id"
	FieldGigID   = "gig_id"
	FieldValue   = "value"
	FieldSinger  = "singer"
	FieldKey     = "key"
	FieldSort    = "sort"
	FieldDeleted = "deleted"
)

// Row is a single record in a collection. Fields hold flat string values;
// structured facts (encoded section tokens) are packed into values by the
// codec package.
type Row struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Clone copies the row so callers can hold it across store mutations.
func (r Row) Clone() Row {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Row{ID: r.ID, Fields: fields}
}

// Field returns a field value, empty string when absent.
func (r Row) Field(name string) string {
	return r.Fields[name]
}

// Filter is an exact-match predicate over row fields. Every entry must
// match for a row to be selected.
type Filter map[string]string

// Matches reports whether the row satisfies every filter entry. The
// reserved key FieldID matches against the row ID.
func (f Filter) Matches(r Row) bool {
	for k, want := range f {
		if k == FieldID {
			if r.ID != want {
				return false
			}
			continue
		}
		if r.Fields[k] != want {
			return false
		}
	}
	return true
}

var (
	// ErrNotFound is returned by Update when no row has the given ID.
	ErrNotFound = errors.New("backend: row not found")
	// ErrClosed is returned once the store connection has been closed.
	ErrClosed = errors.New("backend: store closed")
)

// Store is the backend collection store contract. Implementations must be
// safe for concurrent use. Writes are independent: nothing spans more than
// one row, and there is no rollback on partial failure of a multi-row
// sequence.
type Store interface {
	// List returns every row of a collection in a stable order.
	List(ctx context.Context, collection string) ([]Row, error)
	// Insert adds a row and returns it. An empty id asks the store to
	// assign one; a non-empty id is a client-generated identity, letting an
	// optimistic local insert and its asynchronous remote write agree on
	// the row's identity before the write completes.
	Insert(ctx context.Context, collection, id string, fields map[string]string) (Row, error)
	// Update overwrites the given fields of the row with the given ID.
	Update(ctx context.Context, collection, id string, fields map[string]string) error
	// Upsert updates the first row matching filter, or inserts fields as a
	// new row when nothing matches.
	Upsert(ctx context.Context, collection string, filter Filter, fields map[string]string) error
	// Delete removes every row matching filter and returns how many.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
	// Subscribe registers a change handler for one collection (or
	// events.AllCollections). The notification carries only the collection
	// name.
	Subscribe(collection string, handler events.Handler) (events.Subscription, error)
}
