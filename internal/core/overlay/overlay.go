// Package overlay resolves, for a (gig, song) pair, the effective section
// and the effective singer-to-key bindings by layering gig-scoped overrides
// over the song's shared attributes. Overrides always win; the shared
// entity is never mutated to express a scoped fact.
package overlay

import (
	"regexp"
	"sort"

	"github.com/setsync/setsync/internal/core/model"
)

// numberedVariant matches a trailing numbered suffix such as " Set 2" or
// " 2" so that a section named "Dance Set 2" still matches songs tagged
// with the base tag "Dance".
var numberedVariant = regexp.MustCompile(`(?i)\s+(?:set\s+)?\d+$`)

// BaseSection strips a numbered-variant suffix from a section label.
func BaseSection(label string) string {
	return numberedVariant.ReplaceAllString(label, "")
}

// EffectiveSection resolves the section a song belongs to for a gig. A
// section override wins regardless of the song's tag set. Otherwise the
// song's tags are tested against the configured section labels in order,
// matching either the label itself or its numbered-variant base. ok=false
// means the song is not a member of any configured section for that gig.
func EffectiveSection(st *model.AppState, gigID, songID string, sections []string) (string, bool) {
	if section, ok := st.SectionOverrides[model.OverlayKey{GigID: gigID, SongID: songID}]; ok {
		return section, true
	}

	song, ok := st.Songs[songID]
	if !ok {
		return "", false
	}
	for _, label := range sections {
		if song.HasTag(label) || song.HasTag(BaseSection(label)) {
			return label, true
		}
	}
	return "", false
}

// EffectiveKeys resolves, per singer, the key to use for a gig: the
// gig-specific override when present, else the singer's default key. A
// singer with neither a binding nor an override is absent from the result,
// meaning unassigned; callers never substitute the song's original key.
func EffectiveKeys(st *model.AppState, gigID, songID string) map[string]string {
	keys := make(map[string]string)

	if song, ok := st.Songs[songID]; ok {
		for _, b := range song.Bindings {
			keys[b.Singer] = b.KeyFor(gigID)
		}
	}
	// Overrides may reference singers with no default binding at all.
	for singer, key := range st.GigKeys[model.OverlayKey{GigID: gigID, SongID: songID}] {
		keys[singer] = key
	}
	return keys
}

// ConflictingKeys returns the distinct keys currently bound for a (gig,
// song) pair when more than one is in play. An empty result means no
// ambiguity to surface.
func ConflictingKeys(st *model.AppState, gigID, songID string) []string {
	seen := make(map[string]struct{})
	for _, key := range EffectiveKeys(st, gigID, songID) {
		seen[key] = struct{}{}
	}
	if len(seen) < 2 {
		return nil
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
