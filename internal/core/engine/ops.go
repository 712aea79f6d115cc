package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/model"
)

// CreateSong adds a song to the shared catalog. Returns the new song's ID,
// or empty when the acting role may not mutate.
func (e *Engine) CreateSong(title, artist, originalKey, audioRef string) string {
	id := newID()
	applied := e.store.CommitChange("create song", func(st *model.AppState) {
		st.Songs[id] = model.Song{
			ID:          id,
			Title:       title,
			Artist:      artist,
			OriginalKey: originalKey,
			AudioRef:    audioRef,
		}
	})
	if !applied {
		return ""
	}

	e.async("create song", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionSongs, id, e.stamp(map[string]string{
			"title":        title,
			"artist":       artist,
			"original_key": originalKey,
			"audio_ref":    audioRef,
		}))
		return err
	})
	return id
}

// UpdateSong overwrites a song's shared attributes.
func (e *Engine) UpdateSong(id, title, artist, originalKey, audioRef string) bool {
	applied := e.store.CommitChange("update song", func(st *model.AppState) {
		song, ok := st.Songs[id]
		if !ok {
			return
		}
		song.Title = title
		song.Artist = artist
		song.OriginalKey = originalKey
		song.AudioRef = audioRef
		st.Songs[id] = song
	})
	if !applied {
		return false
	}

	e.async("update song", func(ctx context.Context) error {
		return e.backend.Update(ctx, backend.CollectionSongs, id, map[string]string{
			"title":        title,
			"artist":       artist,
			"original_key": originalKey,
			"audio_ref":    audioRef,
		})
	})
	return true
}

// DeleteSong soft-deletes a song. The row stays so gigs that still
// reference the song keep resolving it.
func (e *Engine) DeleteSong(id string) bool {
	applied := e.store.CommitChange("delete song", func(st *model.AppState) {
		song, ok := st.Songs[id]
		if !ok {
			return
		}
		song.Deleted = true
		st.Songs[id] = song
	})
	if !applied {
		return false
	}

	e.async("delete song", func(ctx context.Context) error {
		return e.backend.Update(ctx, backend.CollectionSongs, id, map[string]string{
			backend.FieldDeleted: "true",
		})
	})
	return true
}

// AddTag attaches a descriptive tag to a song. Tags are case-insensitively
// unique per song.
func (e *Engine) AddTag(songID, tag string) bool {
	applied := e.store.CommitChange("add tag", func(st *model.AppState) {
		song, ok := st.Songs[songID]
		if !ok || song.HasTag(tag) {
			return
		}
		song.Tags = append(song.Tags, tag)
		st.Songs[songID] = song
	})
	if !applied {
		return false
	}

	e.async("add tag", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionTags, "", e.stamp(map[string]string{
			backend.FieldSongID: songID,
			backend.FieldValue:  tag,
		}))
		return err
	})
	return true
}

// RemoveTag detaches a descriptive tag from a song.
func (e *Engine) RemoveTag(songID, tag string) bool {
	applied := e.store.CommitChange("remove tag", func(st *model.AppState) {
		song, ok := st.Songs[songID]
		if !ok {
			return
		}
		tags := song.Tags[:0]
		for _, t := range song.Tags {
			if !strings.EqualFold(t, tag) {
				tags = append(tags, t)
			}
		}
		song.Tags = tags
		st.Songs[songID] = song
	})
	if !applied {
		return false
	}

	e.async("remove tag", func(ctx context.Context) error {
		_, err := e.backend.Delete(ctx, backend.CollectionTags, backend.Filter{
			backend.FieldSongID: songID,
			backend.FieldValue:  tag,
		})
		return err
	})
	return true
}

// SetDefaultKey sets a singer's default key on a song.
func (e *Engine) SetDefaultKey(songID, singer, key string) bool {
	applied := e.store.CommitChange("set default key", func(st *model.AppState) {
		song, ok := st.Songs[songID]
		if !ok {
			return
		}
		for i, b := range song.Bindings {
			if b.Singer == singer {
				b.DefaultKey = key
				song.Bindings[i] = b
				st.Songs[songID] = song
				return
			}
		}
		song.Bindings = append(song.Bindings, model.SingerKeyBinding{
			Singer:     singer,
			DefaultKey: key,
		})
		st.Songs[songID] = song
	})
	if !applied {
		return false
	}

	e.async("set default key", func(ctx context.Context) error {
		return e.backend.Upsert(ctx, backend.CollectionKeyBindings,
			backend.Filter{backend.FieldSongID: songID, backend.FieldSinger: singer},
			e.stamp(map[string]string{
				backend.FieldSongID: songID,
				backend.FieldSinger: singer,
				backend.FieldKey:    key,
			}))
	})
	return true
}

// SetGigKey sets a gig-scoped key override for a singer on a song. The
// override is never implicitly cleared when the song's shared attributes
// change later.
func (e *Engine) SetGigKey(gigID, songID, singer, key string) bool {
	applied := e.store.CommitChange("set gig key", func(st *model.AppState) {
		ok := model.OverlayKey{GigID: gigID, SongID: songID}
		if st.GigKeys[ok] == nil {
			st.GigKeys[ok] = make(map[string]string)
		}
		st.GigKeys[ok][singer] = key

		if song, exists := st.Songs[songID]; exists {
			for i, b := range song.Bindings {
				if b.Singer != singer {
					continue
				}
				if b.GigKeys == nil {
					b.GigKeys = make(map[string]string)
				}
				b.GigKeys[gigID] = key
				song.Bindings[i] = b
				st.Songs[songID] = song
				break
			}
		}
	})
	if !applied {
		return false
	}

	e.async("set gig key", func(ctx context.Context) error {
		return e.backend.Upsert(ctx, backend.CollectionGigKeys,
			backend.Filter{
				backend.FieldGigID:  gigID,
				backend.FieldSongID: songID,
				backend.FieldSinger: singer,
			},
			e.stamp(map[string]string{
				backend.FieldGigID:  gigID,
				backend.FieldSongID: songID,
				backend.FieldSinger: singer,
				backend.FieldKey:    key,
			}))
	})
	return true
}

// AssignSection sets the per-gig section override for a song. Other gigs'
// encodings of the same song are untouched.
func (e *Engine) AssignSection(gigID, songID, section string) bool {
	applied := e.store.CommitChange("assign section", func(st *model.AppState) {
		st.SectionOverrides[model.OverlayKey{GigID: gigID, SongID: songID}] = section
	})
	if !applied {
		return false
	}

	e.async("assign section", func(ctx context.Context) error {
		return e.writer.AssignSection(ctx, gigID, songID, section)
	})
	return true
}

// ClearSection removes the per-gig section override, returning the song to
// tag-derived membership.
func (e *Engine) ClearSection(gigID, songID string) bool {
	applied := e.store.CommitChange("clear section", func(st *model.AppState) {
		delete(st.SectionOverrides, model.OverlayKey{GigID: gigID, SongID: songID})
	})
	if !applied {
		return false
	}

	e.async("clear section", func(ctx context.Context) error {
		return e.writer.ClearSection(ctx, gigID, songID)
	})
	return true
}

// ResolveKeyConflict rewrites every gig override for (gig, song) to the
// chosen key. The remote rewrite is a sequence of independent writes; on
// partial failure, re-invoking converges.
func (e *Engine) ResolveKeyConflict(gigID, songID, chosenKey string) bool {
	applied := e.store.CommitChange("resolve key conflict", func(st *model.AppState) {
		ok := model.OverlayKey{GigID: gigID, SongID: songID}
		for singer := range st.GigKeys[ok] {
			st.GigKeys[ok][singer] = chosenKey
		}
		if song, exists := st.Songs[songID]; exists {
			for i, b := range song.Bindings {
				if _, has := b.GigKeys[gigID]; has {
					b.GigKeys[gigID] = chosenKey
					song.Bindings[i] = b
				}
			}
			st.Songs[songID] = song
		}
	})
	if !applied {
		return false
	}

	e.async("resolve key conflict", func(ctx context.Context) error {
		return e.writer.ResolveConflictingKey(ctx, gigID, songID, chosenKey)
	})
	return true
}

// CreateGig adds a gig record.
func (e *Engine) CreateGig(name, date, venue string) string {
	id := newID()
	applied := e.store.CommitChange("create gig", func(st *model.AppState) {
		st.Gigs[id] = model.Gig{ID: id, Name: name, Date: date, Venue: venue}
	})
	if !applied {
		return ""
	}

	e.async("create gig", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionGigs, id, e.stamp(map[string]string{
			"name":  name,
			"date":  date,
			"venue": venue,
		}))
		return err
	})
	return id
}

// UpdateGig overwrites a gig's attributes.
func (e *Engine) UpdateGig(id, name, date, venue string) bool {
	applied := e.store.CommitChange("update gig", func(st *model.AppState) {
		gig, ok := st.Gigs[id]
		if !ok {
			return
		}
		gig.Name = name
		gig.Date = date
		gig.Venue = venue
		st.Gigs[id] = gig
	})
	if !applied {
		return false
	}

	e.async("update gig", func(ctx context.Context) error {
		return e.backend.Update(ctx, backend.CollectionGigs, id, map[string]string{
			"name":  name,
			"date":  date,
			"venue": venue,
		})
	})
	return true
}

// DeleteGig soft-deletes a gig.
func (e *Engine) DeleteGig(id string) bool {
	applied := e.store.CommitChange("delete gig", func(st *model.AppState) {
		gig, ok := st.Gigs[id]
		if !ok {
			return
		}
		gig.Deleted = true
		st.Gigs[id] = gig
	})
	if !applied {
		return false
	}

	e.async("delete gig", func(ctx context.Context) error {
		return e.backend.Update(ctx, backend.CollectionGigs, id, map[string]string{
			backend.FieldDeleted: "true",
		})
	})
	return true
}

// AddSongToGig appends a song to a gig's ordering.
func (e *Engine) AddSongToGig(gigID, songID string) bool {
	position := -1
	applied := e.store.CommitChange("add song to gig", func(st *model.AppState) {
		gig, ok := st.Gigs[gigID]
		if !ok || gig.HasSong(songID) {
			return
		}
		position = len(gig.SongIDs)
		gig.SongIDs = append(gig.SongIDs, songID)
		st.Gigs[gigID] = gig
	})
	if !applied {
		return false
	}

	e.async("add song to gig", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionGigSongs, "", e.stamp(map[string]string{
			backend.FieldGigID:  gigID,
			backend.FieldSongID: songID,
			backend.FieldSort:   strconv.Itoa(position),
		}))
		return err
	})
	return true
}

// RemoveSongFromGig removes a song from a gig's ordering. Gig-scoped key
// overrides for the pair are left in place; if the removal's remote write
// is lost while an override survives, the recovery heuristic will restore
// the song on a later reload.
func (e *Engine) RemoveSongFromGig(gigID, songID string) bool {
	applied := e.store.CommitChange("remove song from gig", func(st *model.AppState) {
		gig, ok := st.Gigs[gigID]
		if !ok {
			return
		}
		ids := gig.SongIDs[:0]
		for _, id := range gig.SongIDs {
			if id != songID {
				ids = append(ids, id)
			}
		}
		gig.SongIDs = ids
		st.Gigs[gigID] = gig
	})
	if !applied {
		return false
	}

	e.async("remove song from gig", func(ctx context.Context) error {
		_, err := e.backend.Delete(ctx, backend.CollectionGigSongs, backend.Filter{
			backend.FieldGigID:  gigID,
			backend.FieldSongID: songID,
		})
		return err
	})
	return true
}

// ReorderGigSongs replaces a gig's song ordering. Remotely this is one
// upsert per membership row; a partial failure leaves mixed sort keys until
// the operation is re-run.
func (e *Engine) ReorderGigSongs(gigID string, songIDs []string) bool {
	ordered := make([]string, len(songIDs))
	copy(ordered, songIDs)

	applied := e.store.CommitChange("reorder gig songs", func(st *model.AppState) {
		gig, ok := st.Gigs[gigID]
		if !ok {
			return
		}
		gig.SongIDs = ordered
		st.Gigs[gigID] = gig
	})
	if !applied {
		return false
	}

	e.async("reorder gig songs", func(ctx context.Context) error {
		var all error
		for i, songID := range ordered {
			err := e.backend.Upsert(ctx, backend.CollectionGigSongs,
				backend.Filter{
					backend.FieldGigID:  gigID,
					backend.FieldSongID: songID,
				},
				e.stamp(map[string]string{
					backend.FieldGigID:  gigID,
					backend.FieldSongID: songID,
					backend.FieldSort:   strconv.Itoa(i),
				}))
			if err != nil {
				all = errors.Join(all, err)
			}
		}
		return all
	})
	return true
}

// CreateSpecialRequest records a gig-scoped request, referencing a catalog
// song or carrying an inline title/artist.
func (e *Engine) CreateSpecialRequest(req model.SpecialRequest) string {
	id := newID()
	req.ID = id
	applied := e.store.CommitChange("create special request", func(st *model.AppState) {
		st.Requests[id] = req
	})
	if !applied {
		return ""
	}

	e.async("create special request", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionRequests, id, e.stamp(map[string]string{
			backend.FieldGigID:  req.GigID,
			backend.FieldSongID: req.SongID,
			"title":             req.Title,
			"artist":            req.Artist,
			"singers":           strings.Join(req.Singers, ","),
			backend.FieldKey:    req.Key,
		}))
		return err
	})
	return id
}

// DeleteSpecialRequest removes a gig-scoped request.
func (e *Engine) DeleteSpecialRequest(id string) bool {
	applied := e.store.CommitChange("delete special request", func(st *model.AppState) {
		delete(st.Requests, id)
	})
	if !applied {
		return false
	}

	e.async("delete special request", func(ctx context.Context) error {
		_, err := e.backend.Delete(ctx, backend.CollectionRequests, backend.Filter{
			backend.FieldID: id,
		})
		return err
	})
	return true
}

// CreateMusician adds a band member record.
func (e *Engine) CreateMusician(name, instrument string) string {
	id := newID()
	applied := e.store.CommitChange("create musician", func(st *model.AppState) {
		st.Musicians[id] = model.Musician{ID: id, Name: name, Instrument: instrument}
	})
	if !applied {
		return ""
	}

	e.async("create musician", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionMusicians, id, e.stamp(map[string]string{
			"name":       name,
			"instrument": instrument,
		}))
		return err
	})
	return id
}

// DeleteMusician soft-deletes a musician.
func (e *Engine) DeleteMusician(id string) bool {
	applied := e.store.CommitChange("delete musician", func(st *model.AppState) {
		m, ok := st.Musicians[id]
		if !ok {
			return
		}
		m.Deleted = true
		st.Musicians[id] = m
	})
	if !applied {
		return false
	}

	e.async("delete musician", func(ctx context.Context) error {
		return e.backend.Update(ctx, backend.CollectionMusicians, id, map[string]string{
			backend.FieldDeleted: "true",
		})
	})
	return true
}

// SetMusicianStatus sets a musician's per-gig status (active or out).
func (e *Engine) SetMusicianStatus(gigID, musicianID string, status model.AssignmentStatus) bool {
	applied := e.store.CommitChange("set musician status", func(st *model.AppState) {
		for id, a := range st.Assignments {
			if a.GigID == gigID && a.MusicianID == musicianID {
				a.Status = status
				st.Assignments[id] = a
				return
			}
		}
		id := newID()
		st.Assignments[id] = model.GigMusicianAssignment{
			ID:         id,
			GigID:      gigID,
			MusicianID: musicianID,
			Status:     status,
		}
	})
	if !applied {
		return false
	}

	e.async("set musician status", func(ctx context.Context) error {
		return e.backend.Upsert(ctx, backend.CollectionGigMusicians,
			backend.Filter{
				backend.FieldGigID: gigID,
				"musician_id":      musicianID,
			},
			e.stamp(map[string]string{
				backend.FieldGigID: gigID,
				"musician_id":      musicianID,
				"status":           string(status),
			}))
	})
	return true
}

// AttachDocument records a chart document reference for a song.
func (e *Engine) AttachDocument(songID, name, ref string) string {
	id := newID()
	applied := e.store.CommitChange("attach document", func(st *model.AppState) {
		st.Documents[id] = model.Document{ID: id, SongID: songID, Name: name, Ref: ref}
	})
	if !applied {
		return ""
	}

	e.async("attach document", func(ctx context.Context) error {
		_, err := e.backend.Insert(ctx, backend.CollectionDocuments, id, e.stamp(map[string]string{
			backend.FieldSongID: songID,
			"name":              name,
			"ref":               ref,
		}))
		return err
	})
	return id
}
