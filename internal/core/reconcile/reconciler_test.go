package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/codec"
	"github.com/setsync/setsync/internal/core/model"
	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/core/state"
)

func seedRow(t *testing.T, store backend.Store, collection, id string, fields map[string]string) {
	t.Helper()
	_, err := store.Insert(context.Background(), collection, id, fields)
	require.NoError(t, err)
}

func newTestReconciler(t *testing.T, be backend.Store) (*Reconciler, *state.Store) {
	t.Helper()
	st := state.NewStore(state.RoleAdmin, log.New(log.LevelError))
	return New(st, be, "", log.New(log.LevelError)), st
}

func TestReloadRebuildsSongsAndTags(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionSongs, "s1", map[string]string{
		"title": "Valerie", "artist": "Amy Winehouse", "original_key": "Eb",
	})
	seedRow(t, be, backend.CollectionTags, "", map[string]string{
		backend.FieldSongID: "s1", backend.FieldValue: "Dance",
	})
	seedRow(t, be, backend.CollectionTags, "", map[string]string{
		backend.FieldSongID: "s1", backend.FieldValue: codec.Encode("g1", "Dinner"),
	})

	r, st := newTestReconciler(t, be)
	require.NoError(t, r.Reload(context.Background()))

	snap := st.Snapshot()
	song, ok := snap.Songs["s1"]
	require.True(t, ok)
	assert.Equal(t, "Valerie", song.Title)
	assert.Equal(t, []string{"Dance"}, song.Tags, "encoded tokens never surface as tags")
	assert.Equal(t, []string{"Dance"}, snap.TagCatalog)
	assert.Equal(t, "Dinner", snap.SectionOverrides[model.OverlayKey{GigID: "g1", SongID: "s1"}])
}

func TestReloadGigOrdering(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionGigs, "g1", map[string]string{"name": "Harbor Wedding"})
	for _, s := range []string{"s1", "s2", "s3"} {
		seedRow(t, be, backend.CollectionSongs, s, map[string]string{"title": s})
	}
	seedRow(t, be, backend.CollectionGigSongs, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s3", backend.FieldSort: "2",
	})
	seedRow(t, be, backend.CollectionGigSongs, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s1", backend.FieldSort: "0",
	})
	seedRow(t, be, backend.CollectionGigSongs, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s2", backend.FieldSort: "1",
	})

	r, st := newTestReconciler(t, be)
	require.NoError(t, r.Reload(context.Background()))

	assert.Equal(t, []string{"s1", "s2", "s3"}, st.Snapshot().Gigs["g1"].SongIDs)
}

func TestReloadKeyBindings(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionSongs, "s1", map[string]string{"title": "Valerie"})
	seedRow(t, be, backend.CollectionKeyBindings, "", map[string]string{
		backend.FieldSongID: "s1", backend.FieldSinger: "Maya", backend.FieldKey: "C",
	})
	seedRow(t, be, backend.CollectionGigKeys, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s1",
		backend.FieldSinger: "Maya", backend.FieldKey: "D",
	})
	seedRow(t, be, backend.CollectionGigs, "g1", map[string]string{"name": "Harbor Wedding"})
	seedRow(t, be, backend.CollectionGigSongs, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s1", backend.FieldSort: "0",
	})

	r, st := newTestReconciler(t, be)
	require.NoError(t, r.Reload(context.Background()))

	snap := st.Snapshot()
	song := snap.Songs["s1"]
	require.Len(t, song.Bindings, 1)
	assert.Equal(t, "C", song.Bindings[0].DefaultKey)
	assert.Equal(t, "D", song.Bindings[0].GigKeys["g1"])
	assert.Equal(t, "D", snap.GigKeys[model.OverlayKey{GigID: "g1", SongID: "s1"}]["Maya"])
	assert.Equal(t, []string{"Maya"}, snap.Singers)
}

func TestReloadRecoversMembershipFromGigKeys(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionGigs, "g1", map[string]string{"name": "Harbor Wedding"})
	seedRow(t, be, backend.CollectionSongs, "s1", map[string]string{"title": "Valerie"})
	seedRow(t, be, backend.CollectionSongs, "s2", map[string]string{"title": "Superstition"})
	seedRow(t, be, backend.CollectionGigSongs, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s1", backend.FieldSort: "0",
	})
	// The ordering row for s2 was lost, but its gig-scoped key override
	// survived. Membership must be restored from that evidence.
	seedRow(t, be, backend.CollectionGigKeys, "", map[string]string{
		backend.FieldGigID: "g1", backend.FieldSongID: "s2",
		backend.FieldSinger: "Maya", backend.FieldKey: "D",
	})

	r, st := newTestReconciler(t, be)
	require.NoError(t, r.Reload(context.Background()))

	gig := st.Snapshot().Gigs["g1"]
	assert.Equal(t, []string{"s1", "s2"}, gig.SongIDs, "recovered song is appended after explicit members")
}

func TestReloadTenantScoping(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionSongs, "mine", map[string]string{
		"title": "Valerie", backend.FieldTenant: "band-a",
	})
	seedRow(t, be, backend.CollectionSongs, "theirs", map[string]string{
		"title": "Superstition", backend.FieldTenant: "band-b",
	})

	st := state.NewStore(state.RoleAdmin, log.New(log.LevelError))
	r := New(st, be, "band-a", log.New(log.LevelError))
	require.NoError(t, r.Reload(context.Background()))

	snap := st.Snapshot()
	assert.Contains(t, snap.Songs, "mine")
	assert.NotContains(t, snap.Songs, "theirs")
}

func TestReloadPreservesLocalErrorBanner(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	r, st := newTestReconciler(t, be)

	st.SetLastError("write failed, changes may not be saved")
	require.NoError(t, r.Reload(context.Background()))

	assert.Equal(t, "write failed, changes may not be saved", st.Snapshot().LastError)
}

func TestRunReloadsOnChangeNotifications(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	r, st := newTestReconciler(t, be)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	// Insert after Run has subscribed; the change notification must drive a
	// reload without an explicit Reload call.
	require.Eventually(t, func() bool {
		_, err := be.Insert(ctx, backend.CollectionSongs, "s1", map[string]string{"title": "Valerie"})
		if err != nil {
			return false
		}
		_, ok := st.Snapshot().Songs["s1"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on context cancellation")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	r, _ := newTestReconciler(t, be)

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Notify(backend.CollectionSongs))
	}
}

func TestRebuildDedupesTagsCaseInsensitively(t *testing.T) {
	be := backend.NewMemoryStore(nil)
	seedRow(t, be, backend.CollectionSongs, "s1", map[string]string{"title": "Valerie"})
	seedRow(t, be, backend.CollectionSongs, "s2", map[string]string{"title": "Superstition"})
	seedRow(t, be, backend.CollectionTags, "", map[string]string{
		backend.FieldSongID: "s1", backend.FieldValue: "Dinner",
	})
	seedRow(t, be, backend.CollectionTags, "", map[string]string{
		backend.FieldSongID: "s2", backend.FieldValue: "dinner",
	})

	r, st := newTestReconciler(t, be)
	require.NoError(t, r.Reload(context.Background()))

	assert.Len(t, st.Snapshot().TagCatalog, 1)
}
