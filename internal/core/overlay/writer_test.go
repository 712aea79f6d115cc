package overlay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/codec"
	"github.com/setsync/setsync/internal/core/observability/log"
)

// flakyStore rejects a fixed number of deletes before behaving normally.
type flakyStore struct {
	backend.Store
	failDeletes int
}

func (f *flakyStore) Delete(ctx context.Context, collection string, filter backend.Filter) (int, error) {
	if f.failDeletes > 0 {
		f.failDeletes--
		return 0, errors.New("delete rejected")
	}
	return f.Store.Delete(ctx, collection, filter)
}

func tagValues(t *testing.T, store backend.Store, songID string) []string {
	t.Helper()
	rows, err := store.List(context.Background(), backend.CollectionTags)
	require.NoError(t, err)

	var values []string
	for _, row := range rows {
		if row.Field(backend.FieldSongID) == songID {
			values = append(values, row.Field(backend.FieldValue))
		}
	}
	return values
}

func TestWriterAssignSection(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryStore(nil)
	w := NewWriter(store, log.New(log.LevelError))

	require.NoError(t, w.AssignSection(ctx, "g1", "s1", "Dance Set 2"))
	values := tagValues(t, store, "s1")
	require.Len(t, values, 1)
	section, gotGig := "", ""
	if a, ok := codec.Decode(values[0]); ok {
		gotGig, section = a.GigID, a.Section
	}
	assert.Equal(t, "g1", gotGig)
	assert.Equal(t, "Dance Set 2", section)

	t.Run("reassign replaces rather than accumulates", func(t *testing.T) {
		require.NoError(t, w.AssignSection(ctx, "g1", "s1", "Dinner"))

		values := tagValues(t, store, "s1")
		require.Len(t, values, 1)
		a, ok := codec.Decode(values[0])
		require.True(t, ok)
		assert.Equal(t, "Dinner", a.Section)
	})

	t.Run("other gigs' tokens survive reassignment", func(t *testing.T) {
		require.NoError(t, w.AssignSection(ctx, "g2", "s1", "Cocktail"))
		require.NoError(t, w.AssignSection(ctx, "g1", "s1", "Dance"))

		values := tagValues(t, store, "s1")
		require.Len(t, values, 2)

		byGig := make(map[string]string)
		for _, v := range values {
			a, ok := codec.Decode(v)
			require.True(t, ok)
			byGig[a.GigID] = a.Section
		}
		assert.Equal(t, "Cocktail", byGig["g2"])
		assert.Equal(t, "Dance", byGig["g1"])
	})

	t.Run("other songs' tokens survive reassignment", func(t *testing.T) {
		require.NoError(t, w.AssignSection(ctx, "g1", "s2", "Dinner"))
		require.NoError(t, w.AssignSection(ctx, "g1", "s1", "Dance Set 2"))

		assert.Len(t, tagValues(t, store, "s2"), 1)
	})

	t.Run("prefix match does not leak across similar gig ids", func(t *testing.T) {
		require.NoError(t, w.AssignSection(ctx, "g", "s3", "Dinner"))
		require.NoError(t, w.AssignSection(ctx, "g12", "s3", "Dance"))

		// Reassigning gig "g1" must not touch "g12" or "g" tokens.
		require.NoError(t, w.AssignSection(ctx, "g1", "s3", "Cocktail"))

		values := tagValues(t, store, "s3")
		require.Len(t, values, 3)
		for _, gig := range []string{"g", "g1", "g12"} {
			found := false
			for _, v := range values {
				if strings.HasPrefix(v, codec.TokenPrefix(gig)) {
					a, ok := codec.Decode(v)
					require.True(t, ok)
					if a.GigID == gig {
						found = true
					}
				}
			}
			assert.True(t, found, "token for gig %q missing", gig)
		}
	})
}

func TestWriterClearSection(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryStore(nil)
	w := NewWriter(store, log.New(log.LevelError))

	require.NoError(t, w.AssignSection(ctx, "g1", "s1", "Dinner"))
	require.NoError(t, w.AssignSection(ctx, "g2", "s1", "Dance"))

	require.NoError(t, w.ClearSection(ctx, "g1", "s1"))

	values := tagValues(t, store, "s1")
	require.Len(t, values, 1)
	a, ok := codec.Decode(values[0])
	require.True(t, ok)
	assert.Equal(t, "g2", a.GigID)

	t.Run("clearing again is a no-op", func(t *testing.T) {
		require.NoError(t, w.ClearSection(ctx, "g1", "s1"))
		assert.Len(t, tagValues(t, store, "s1"), 1)
	})
}

func TestWriterResolveConflictingKey(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryStore(nil)
	w := NewWriter(store, log.New(log.LevelError))

	seed := func(singer, key string) {
		_, err := store.Insert(ctx, backend.CollectionGigKeys, "", map[string]string{
			backend.FieldGigID:  "g1",
			backend.FieldSongID: "s1",
			backend.FieldSinger: singer,
			backend.FieldKey:    key,
		})
		require.NoError(t, err)
	}
	seed("Maya", "C")
	seed("Leo", "E")

	require.NoError(t, w.ResolveConflictingKey(ctx, "g1", "s1", "D"))

	rows, err := store.List(ctx, backend.CollectionGigKeys)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "D", row.Field(backend.FieldKey), "singer %s", row.Field(backend.FieldSinger))
	}

	t.Run("re-running after convergence changes nothing", func(t *testing.T) {
		require.NoError(t, w.ResolveConflictingKey(ctx, "g1", "s1", "D"))

		rows, err := store.List(ctx, backend.CollectionGigKeys)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("partial failure leaves a mix, re-running converges", func(t *testing.T) {
		flaky := &flakyStore{Store: store, failDeletes: 1}
		w := NewWriter(flaky, log.New(log.LevelError))

		// The first row's delete is rejected; the writer reports the
		// failure but still rewrites the remaining rows.
		require.Error(t, w.ResolveConflictingKey(ctx, "g1", "s1", "E"))

		keys := make(map[string]struct{})
		rows, err := store.List(ctx, backend.CollectionGigKeys)
		require.NoError(t, err)
		for _, row := range rows {
			keys[row.Field(backend.FieldKey)] = struct{}{}
		}
		assert.Len(t, keys, 2, "one binding rewritten, one left behind")

		// The store recovers; the same operation converges.
		require.NoError(t, w.ResolveConflictingKey(ctx, "g1", "s1", "E"))

		rows, err = store.List(ctx, backend.CollectionGigKeys)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			assert.Equal(t, "E", row.Field(backend.FieldKey))
		}
	})

	t.Run("rows of other pairs are untouched", func(t *testing.T) {
		_, err := store.Insert(ctx, backend.CollectionGigKeys, "", map[string]string{
			backend.FieldGigID:  "g2",
			backend.FieldSongID: "s1",
			backend.FieldSinger: "Maya",
			backend.FieldKey:    "F",
		})
		require.NoError(t, err)

		require.NoError(t, w.ResolveConflictingKey(ctx, "g1", "s1", "G"))

		rows, err := store.List(ctx, backend.CollectionGigKeys)
		require.NoError(t, err)
		for _, row := range rows {
			if row.Field(backend.FieldGigID) == "g2" {
				assert.Equal(t, "F", row.Field(backend.FieldKey))
			}
		}
	})
}
