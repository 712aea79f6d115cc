package model

// AppState is the single in-memory snapshot of application state. The
// mutation store owns it exclusively; the reconciler replaces it wholesale
// but never partially mutates a live snapshot.
type AppState struct {
	Songs       map[string]Song                  `json:"songs"`
	Gigs        map[string]Gig                   `json:"gigs"`
	Musicians   map[string]Musician              `json:"musicians"`
	Assignments map[string]GigMusicianAssignment `json:"assignments"`
	Requests    map[string]SpecialRequest        `json:"requests"`
	Documents   map[string]Document              `json:"documents"`

	// Overlay maps: per-gig facts layered over the shared entities.
	SectionOverrides map[OverlayKey]string            `json:"section_overrides"`
	GigKeys          map[OverlayKey]map[string]string `json:"gig_keys"`

	// Derived catalogs, rebuilt on every reload.
	TagCatalog []string          `json:"tag_catalog"`
	Singers    []string          `json:"singers"`
	NowPlaying map[string]string `json:"now_playing"`

	// Most recent backend write error, shown as a dismissible banner.
	LastError string `json:"last_error,omitempty"`
}

// NewAppState returns an empty snapshot with all maps allocated.
func NewAppState() *AppState {
	return &AppState{
		Songs:            map[string]Song{},
		Gigs:             map[string]Gig{},
		Musicians:        map[string]Musician{},
		Assignments:      map[string]GigMusicianAssignment{},
		Requests:         map[string]SpecialRequest{},
		Documents:        map[string]Document{},
		SectionOverrides: map[OverlayKey]string{},
		GigKeys:          map[OverlayKey]map[string]string{},
		NowPlaying:       map[string]string{},
	}
}

// Clone deep-copies the snapshot. Undo exactness depends on nothing in the
// copy aliasing the original.
func (st *AppState) Clone() *AppState {
	next := &AppState{
		Songs:            make(map[string]Song, len(st.Songs)),
		Gigs:             make(map[string]Gig, len(st.Gigs)),
		Musicians:        make(map[string]Musician, len(st.Musicians)),
		Assignments:      make(map[string]GigMusicianAssignment, len(st.Assignments)),
		Requests:         make(map[string]SpecialRequest, len(st.Requests)),
		Documents:        make(map[string]Document, len(st.Documents)),
		SectionOverrides: make(map[OverlayKey]string, len(st.SectionOverrides)),
		GigKeys:          make(map[OverlayKey]map[string]string, len(st.GigKeys)),
		TagCatalog:       cloneStrings(st.TagCatalog),
		Singers:          cloneStrings(st.Singers),
		NowPlaying:       make(map[string]string, len(st.NowPlaying)),
		LastError:        st.LastError,
	}
	for id, s := range st.Songs {
		next.Songs[id] = cloneSong(s)
	}
	for id, g := range st.Gigs {
		g.SongIDs = cloneStrings(g.SongIDs)
		next.Gigs[id] = g
	}
	for id, m := range st.Musicians {
		next.Musicians[id] = m
	}
	for id, a := range st.Assignments {
		next.Assignments[id] = a
	}
	for id, r := range st.Requests {
		r.Singers = cloneStrings(r.Singers)
		next.Requests[id] = r
	}
	for id, d := range st.Documents {
		next.Documents[id] = d
	}
	for k, v := range st.SectionOverrides {
		next.SectionOverrides[k] = v
	}
	for k, keys := range st.GigKeys {
		next.GigKeys[k] = cloneStringMap(keys)
	}
	for k, v := range st.NowPlaying {
		next.NowPlaying[k] = v
	}
	return next
}

func cloneSong(s Song) Song {
	s.Tags = cloneStrings(s.Tags)
	if s.Bindings != nil {
		bindings := make([]SingerKeyBinding, len(s.Bindings))
		for i, b := range s.Bindings {
			b.GigKeys = cloneStringMap(b.GigKeys)
			bindings[i] = b
		}
		s.Bindings = bindings
	}
	return s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
