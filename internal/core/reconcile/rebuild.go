package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/codec"
	"github.com/setsync/setsync/internal/core/model"
	"github.com/setsync/setsync/pkg/sequence"
)

// rebuild turns raw collection rows into a complete AppState. Entity IDs
// are backend row IDs. Rows stamped with a different tenant are dropped.
func rebuild(rows map[string][]backend.Row, tenant string) *model.AppState {
	next := model.NewAppState()

	scoped := func(collection string) []backend.Row {
		return sequence.From(rows[collection]).
			Filter(func(r backend.Row) bool {
				t := r.Field(backend.FieldTenant)
				return t == "" || tenant == "" || t == tenant
			}).
			Collect()
	}

	for _, row := range scoped(backend.CollectionSongs) {
		next.Songs[row.ID] = model.Song{
			ID:          row.ID,
			Title:       row.Field("title"),
			Artist:      row.Field("artist"),
			OriginalKey: row.Field("original_key"),
			AudioRef:    row.Field("audio_ref"),
			Deleted:     row.Field(backend.FieldDeleted) == "true",
		}
	}

	// Split the tag collection: values that decode are gig-scoped section
	// overrides, everything else is a genuine descriptive tag attached to
	// its song and listed in the public catalog.
	catalogSeen := make(map[string]string)
	for _, row := range scoped(backend.CollectionTags) {
		songID := row.Field(backend.FieldSongID)
		value := row.Field(backend.FieldValue)

		if assignment, ok := codec.Decode(value); ok {
			next.SectionOverrides[model.OverlayKey{GigID: assignment.GigID, SongID: songID}] = assignment.Section
			continue
		}

		if song, ok := next.Songs[songID]; ok && !song.HasTag(value) {
			song.Tags = append(song.Tags, value)
			next.Songs[songID] = song
		}
		if _, ok := catalogSeen[strings.ToLower(value)]; !ok {
			catalogSeen[strings.ToLower(value)] = value
		}
	}
	for _, v := range catalogSeen {
		next.TagCatalog = append(next.TagCatalog, v)
	}
	sort.Slice(next.TagCatalog, func(i, j int) bool {
		return strings.ToLower(next.TagCatalog[i]) < strings.ToLower(next.TagCatalog[j])
	})

	for _, row := range scoped(backend.CollectionKeyBindings) {
		songID := row.Field(backend.FieldSongID)
		song, ok := next.Songs[songID]
		if !ok {
			continue
		}
		song.Bindings = append(song.Bindings, model.SingerKeyBinding{
			Singer:     row.Field(backend.FieldSinger),
			DefaultKey: row.Field(backend.FieldKey),
		})
		next.Songs[songID] = song
	}

	for _, row := range scoped(backend.CollectionGigKeys) {
		key := model.OverlayKey{
			GigID:  row.Field(backend.FieldGigID),
			SongID: row.Field(backend.FieldSongID),
		}
		singer := row.Field(backend.FieldSinger)
		if next.GigKeys[key] == nil {
			next.GigKeys[key] = make(map[string]string)
		}
		next.GigKeys[key][singer] = row.Field(backend.FieldKey)

		// Mirror the override onto the song's own binding when one exists.
		if song, ok := next.Songs[key.SongID]; ok {
			for i, b := range song.Bindings {
				if b.Singer != singer {
					continue
				}
				if b.GigKeys == nil {
					b.GigKeys = make(map[string]string)
				}
				b.GigKeys[key.GigID] = row.Field(backend.FieldKey)
				song.Bindings[i] = b
			}
			next.Songs[key.SongID] = song
		}
	}

	for _, row := range scoped(backend.CollectionGigs) {
		next.Gigs[row.ID] = model.Gig{
			ID:      row.ID,
			Name:    row.Field("name"),
			Date:    row.Field("date"),
			Venue:   row.Field("venue"),
			Deleted: row.Field(backend.FieldDeleted) == "true",
		}
	}

	// Gig ordering comes from the explicit membership rows, ordered by
	// their numeric sort key.
	memberships := sequence.From(scoped(backend.CollectionGigSongs)).
		Sort(func(a, b backend.Row) bool {
			as, _ := strconv.Atoi(a.Field(backend.FieldSort))
			bs, _ := strconv.Atoi(b.Field(backend.FieldSort))
			if as != bs {
				return as < bs
			}
			return a.ID < b.ID
		}).
		Collect()
	for _, row := range memberships {
		gigID := row.Field(backend.FieldGigID)
		gig, ok := next.Gigs[gigID]
		if !ok {
			continue
		}
		songID := row.Field(backend.FieldSongID)
		if !gig.HasSong(songID) {
			gig.SongIDs = append(gig.SongIDs, songID)
			next.Gigs[gigID] = gig
		}
	}

	// Recovery heuristic: a surviving gig-key override proves the song
	// belonged to the gig even when its ordering row was lost to a partial
	// write. Append it rather than letting it silently vanish.
	orphans := make([]model.OverlayKey, 0)
	for key := range next.GigKeys {
		gig, ok := next.Gigs[key.GigID]
		if !ok || gig.HasSong(key.SongID) {
			continue
		}
		orphans = append(orphans, key)
	}
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].GigID != orphans[j].GigID {
			return orphans[i].GigID < orphans[j].GigID
		}
		return orphans[i].SongID < orphans[j].SongID
	})
	for _, key := range orphans {
		gig := next.Gigs[key.GigID]
		gig.SongIDs = append(gig.SongIDs, key.SongID)
		next.Gigs[key.GigID] = gig
	}

	for _, row := range scoped(backend.CollectionRequests) {
		req := model.SpecialRequest{
			ID:     row.ID,
			GigID:  row.Field(backend.FieldGigID),
			SongID: row.Field(backend.FieldSongID),
			Title:  row.Field("title"),
			Artist: row.Field("artist"),
			Key:    row.Field(backend.FieldKey),
		}
		if singers := row.Field("singers"); singers != "" {
			req.Singers = strings.Split(singers, ",")
		}
		next.Requests[row.ID] = req
	}

	for _, row := range scoped(backend.CollectionDocuments) {
		next.Documents[row.ID] = model.Document{
			ID:     row.ID,
			SongID: row.Field(backend.FieldSongID),
			Name:   row.Field("name"),
			Ref:    row.Field("ref"),
		}
	}

	for _, row := range scoped(backend.CollectionMusicians) {
		next.Musicians[row.ID] = model.Musician{
			ID:         row.ID,
			Name:       row.Field("name"),
			Instrument: row.Field("instrument"),
			Deleted:    row.Field(backend.FieldDeleted) == "true",
		}
	}

	for _, row := range scoped(backend.CollectionGigMusicians) {
		status := model.AssignmentStatus(row.Field("status"))
		if status != model.AssignmentOut {
			status = model.AssignmentActive
		}
		next.Assignments[row.ID] = model.GigMusicianAssignment{
			ID:         row.ID,
			GigID:      row.Field(backend.FieldGigID),
			MusicianID: row.Field("musician_id"),
			Status:     status,
		}
	}

	for _, row := range scoped(backend.CollectionNowPlaying) {
		gigID := row.Field(backend.FieldGigID)
		if gigID != "" {
			next.NowPlaying[gigID] = row.Field(backend.FieldSongID)
		}
	}

	next.Singers = deriveSingers(next)
	return next
}

// deriveSingers collects every singer referenced by a binding, a gig
// override, or a special request.
func deriveSingers(st *model.AppState) []string {
	seen := make(map[string]struct{})
	for _, song := range st.Songs {
		for _, b := range song.Bindings {
			seen[b.Singer] = struct{}{}
		}
	}
	for _, keys := range st.GigKeys {
		for singer := range keys {
			seen[singer] = struct{}{}
		}
	}
	for _, req := range st.Requests {
		for _, singer := range req.Singers {
			seen[singer] = struct{}{}
		}
	}
	delete(seen, "")

	singers := make([]string, 0, len(seen))
	for s := range seen {
		singers = append(singers, s)
	}
	sort.Strings(singers)
	return singers
}
