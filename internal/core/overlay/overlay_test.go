package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setsync/setsync/internal/core/model"
)

func stateWithSong(song model.Song) *model.AppState {
	st := model.NewAppState()
	st.Songs[song.ID] = song
	return st
}

func TestBaseSection(t *testing.T) {
	assert.Equal(t, "Dance", BaseSection("Dance Set 2"))
	assert.Equal(t, "Dance", BaseSection("Dance 2"))
	assert.Equal(t, "Dance", BaseSection("Dance set 3"))
	assert.Equal(t, "Dinner", BaseSection("Dinner"))
}

func TestEffectiveSection(t *testing.T) {
	sections := []string{"Dinner", "Dance Set 2"}

	t.Run("tag-derived membership", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"Dinner"}})

		section, ok := EffectiveSection(st, "g1", "s1", sections)
		require.True(t, ok)
		assert.Equal(t, "Dinner", section)
	})

	t.Run("numbered variant matches base tag", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"Dance"}})

		section, ok := EffectiveSection(st, "g1", "s1", []string{"Dance Set 2"})
		require.True(t, ok)
		assert.Equal(t, "Dance Set 2", section)
	})

	t.Run("override wins over tags", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"Dinner"}})
		st.SectionOverrides[model.OverlayKey{GigID: "g1", SongID: "s1"}] = "Dance Set 2"

		section, ok := EffectiveSection(st, "g1", "s1", sections)
		require.True(t, ok)
		assert.Equal(t, "Dance Set 2", section)
	})

	t.Run("override is gig-scoped", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"Dinner"}})
		st.SectionOverrides[model.OverlayKey{GigID: "g1", SongID: "s1"}] = "Dance Set 2"

		section, ok := EffectiveSection(st, "g2", "s1", sections)
		require.True(t, ok)
		assert.Equal(t, "Dinner", section, "a second gig with no override resolves by tags")
	})

	t.Run("no membership anywhere", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"Ballad"}})

		_, ok := EffectiveSection(st, "g1", "s1", sections)
		assert.False(t, ok)
	})

	t.Run("tags are matched case-insensitively", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", Tags: []string{"dinner"}})

		section, ok := EffectiveSection(st, "g1", "s1", sections)
		require.True(t, ok)
		assert.Equal(t, "Dinner", section)
	})
}

func TestEffectiveKeys(t *testing.T) {
	song := model.Song{
		ID: "s1",
		Bindings: []model.SingerKeyBinding{
			{Singer: "Maya", DefaultKey: "C", GigKeys: map[string]string{"g1": "D"}},
			{Singer: "Leo", DefaultKey: "G"},
		},
	}

	t.Run("override applies only to its gig", func(t *testing.T) {
		st := stateWithSong(song)

		assert.Equal(t, map[string]string{"Maya": "D", "Leo": "G"}, EffectiveKeys(st, "g1", "s1"))
		assert.Equal(t, map[string]string{"Maya": "C", "Leo": "G"}, EffectiveKeys(st, "g2", "s1"))
	})

	t.Run("overlay map covers singers without bindings", func(t *testing.T) {
		st := stateWithSong(song)
		st.GigKeys[model.OverlayKey{GigID: "g1", SongID: "s1"}] = map[string]string{"Ana": "E"}

		keys := EffectiveKeys(st, "g1", "s1")
		assert.Equal(t, "E", keys["Ana"])
	})

	t.Run("unassigned singer is absent, never the original key", func(t *testing.T) {
		st := stateWithSong(model.Song{ID: "s1", OriginalKey: "A"})

		keys := EffectiveKeys(st, "g1", "s1")
		assert.Empty(t, keys)
	})
}

func TestConflictingKeys(t *testing.T) {
	st := stateWithSong(model.Song{
		ID: "s1",
		Bindings: []model.SingerKeyBinding{
			{Singer: "Maya", DefaultKey: "C"},
			{Singer: "Leo", DefaultKey: "C"},
		},
	})

	assert.Nil(t, ConflictingKeys(st, "g1", "s1"), "agreeing keys are not a conflict")

	st.GigKeys[model.OverlayKey{GigID: "g1", SongID: "s1"}] = map[string]string{"Leo": "E"}
	assert.Equal(t, []string{"C", "E"}, ConflictingKeys(st, "g1", "s1"))
}
