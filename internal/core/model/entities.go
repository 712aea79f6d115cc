package model

import (
	"strings"
	"time"
)

// Song is a globally shared catalog entry. Per-gig facts (section, keys)
// are never written onto the song itself; they live in overlay maps on
// AppState and win at read time.
type Song struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Artist      string             `json:"artist"`
	OriginalKey string             `json:"original_key"`
	AudioRef    string             `json:"audio_ref,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Bindings    []SingerKeyBinding `json:"bindings,omitempty"`
	Deleted     bool               `json:"deleted,omitempty"`
}

// HasTag reports case-insensitive tag membership.
func (s Song) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// SingerKeyBinding binds a singer to a default key for a song. GigKeys holds
// per-gig overriding keys; a missing gig entry means the default key applies
// for that gig.
type SingerKeyBinding struct {
	Singer     string            `json:"singer"`
	DefaultKey string            `json:"default_key"`
	GigKeys    map[string]string `json:"gig_keys,omitempty"`
}

// KeyFor resolves the effective key for a gig.
func (b SingerKeyBinding) KeyFor(gigID string) string {
	if k, ok := b.GigKeys[gigID]; ok {
		return k
	}
	return b.DefaultKey
}

// Gig is an event record. SongIDs is ordered and the order is gig-local;
// the same song may appear in any number of gigs.
type Gig struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Date    string   `json:"date"`
	Venue   string   `json:"venue"`
	SongIDs []string `json:"song_ids,omitempty"`
	Deleted bool     `json:"deleted,omitempty"`
}

// HasSong reports membership of a song in the gig's ordering.
func (g Gig) HasSong(songID string) bool {
	for _, id := range g.SongIDs {
		if id == songID {
			return true
		}
	}
	return false
}

// OverlayKey scopes a per-gig fact to a single song.
type OverlayKey struct {
	GigID  string `json:"gig_id"`
	SongID string `json:"song_id"`
}

// SpecialRequest is a gig-scoped request. It references a catalog song by ID
// or carries an inline title/artist for a song not yet in the catalog. Its
// singer list and key are an independent override surface, deliberately
// separate from SingerKeyBinding.GigKeys.
type SpecialRequest struct {
	ID      string   `json:"id"`
	GigID   string   `json:"gig_id"`
	SongID  string   `json:"song_id,omitempty"`
	Title   string   `json:"title,omitempty"`
	Artist  string   `json:"artist,omitempty"`
	Singers []string `json:"singers,omitempty"`
	Key     string   `json:"key,omitempty"`
}

// Musician is a globally shared band member record.
type Musician struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Instrument string `json:"instrument,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// AssignmentStatus is the per-gig status of a musician.
type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "active"
	AssignmentOut    AssignmentStatus = "out"
)

// GigMusicianAssignment is the gig-scoped join between a gig and a musician.
type GigMusicianAssignment struct {
	ID         string           `json:"id"`
	GigID      string           `json:"gig_id"`
	MusicianID string           `json:"musician_id"`
	Status     AssignmentStatus `json:"status"`
}

// Document is a chart document reference attached to a song. The upload
// pipeline itself lives outside the engine; only the reference rows are
// tracked so reloads keep them current.
type Document struct {
	ID     string `json:"id"`
	SongID string `json:"song_id"`
	Name   string `json:"name"`
	Ref    string `json:"ref"`
}

// HistoryEntry captures the full prior state before a committed mutation.
// Entries form a LIFO stack with no depth cap.
type HistoryEntry struct {
	Label string
	State *AppState
	At    time.Time
}
