package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/codec"
	"github.com/setsync/setsync/internal/core/observability/log"
)

// Writer issues the backend rows behind overlay mutations. Multi-row
// operations are sequences of independent writes with no rollback; a
// partial failure leaves a mix and the same operation must be re-run to
// converge.
type Writer struct {
	store  backend.Store
	logger log.Log
}

// NewWriter creates a Writer against the given backend store.
func NewWriter(store backend.Store, logger log.Log) *Writer {
	return &Writer{
		store:  store,
		logger: logger.With(log.String("component", "overlay")),
	}
}

// AssignSection replaces the encoded section token for (gigID, songID).
// Deletion is prefix-matched against the gig's token prefix on the song's
// own rows, so reassigning never disturbs another gig's encoding of the
// same song nor another song's encoding within the same gig.
func (w *Writer) AssignSection(ctx context.Context, gigID, songID, section string) error {
	rows, err := w.store.List(ctx, backend.CollectionTags)
	if err != nil {
		return fmt.Errorf("overlay: list tags: %w", err)
	}

	prefix := codec.TokenPrefix(gigID)
	var all error
	for _, row := range rows {
		if row.Field(backend.FieldSongID) != songID {
			continue
		}
		value := row.Field(backend.FieldValue)
		if !strings.HasPrefix(value, prefix) {
			continue
		}
		if _, err := w.store.Delete(ctx, backend.CollectionTags, backend.Filter{
			backend.FieldSongID: songID,
			backend.FieldValue:  value,
		}); err != nil {
			all = errors.Join(all, err)
		}
	}

	if _, err := w.store.Insert(ctx, backend.CollectionTags, "", map[string]string{
		backend.FieldSongID: songID,
		backend.FieldValue:  codec.Encode(gigID, section),
	}); err != nil {
		all = errors.Join(all, err)
	}

	if all != nil {
		w.logger.Error("Assign section partially failed",
			log.String("gig_id", gigID),
			log.String("song_id", songID),
			log.Error(all))
	}
	return all
}

// ClearSection removes every encoded token the gig holds for the song,
// returning the song to tag-derived section membership.
func (w *Writer) ClearSection(ctx context.Context, gigID, songID string) error {
	rows, err := w.store.List(ctx, backend.CollectionTags)
	if err != nil {
		return fmt.Errorf("overlay: list tags: %w", err)
	}

	prefix := codec.TokenPrefix(gigID)
	var all error
	for _, row := range rows {
		if row.Field(backend.FieldSongID) != songID {
			continue
		}
		value := row.Field(backend.FieldValue)
		if !strings.HasPrefix(value, prefix) {
			continue
		}
		if _, err := w.store.Delete(ctx, backend.CollectionTags, backend.Filter{
			backend.FieldSongID: songID,
			backend.FieldValue:  value,
		}); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

// ResolveConflictingKey rewrites every gig-key override for (gigID, songID)
// to chosenKey. Each rewrite is an independent delete-then-insert; there is
// no atomic multi-row transaction, so a failure partway leaves some
// bindings resolved and others not. The operation is idempotent and safe to
// re-run until it converges.
func (w *Writer) ResolveConflictingKey(ctx context.Context, gigID, songID, chosenKey string) error {
	rows, err := w.store.List(ctx, backend.CollectionGigKeys)
	if err != nil {
		return fmt.Errorf("overlay: list gig keys: %w", err)
	}

	var all error
	for _, row := range rows {
		if row.Field(backend.FieldGigID) != gigID || row.Field(backend.FieldSongID) != songID {
			continue
		}
		if row.Field(backend.FieldKey) == chosenKey {
			continue
		}
		singer := row.Field(backend.FieldSinger)

		if _, err := w.store.Delete(ctx, backend.CollectionGigKeys, backend.Filter{
			backend.FieldGigID:  gigID,
			backend.FieldSongID: songID,
			backend.FieldSinger: singer,
		}); err != nil {
			all = errors.Join(all, err)
			continue
		}
		if _, err := w.store.Insert(ctx, backend.CollectionGigKeys, "", map[string]string{
			backend.FieldGigID:  gigID,
			backend.FieldSongID: songID,
			backend.FieldSinger: singer,
			backend.FieldKey:    chosenKey,
		}); err != nil {
			all = errors.Join(all, err)
		}
	}

	if all != nil {
		w.logger.Error("Key conflict resolution incomplete, re-run to converge",
			log.String("gig_id", gigID),
			log.String("song_id", songID),
			log.Error(all))
	}
	return all
}
