// Package nowplaying maintains the per-gig pointer to the currently active
// song. The pointer is written optimistically to the local snapshot and
// asynchronously upserted against the backend; other clients observe it by
// periodic polling rather than the realtime subscription, trading latency
// for simplicity.
package nowplaying

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/model"
	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/core/state"
)

// ErrConfirmRequired is returned when re-queuing a locked or already
// selected song without explicit confirmation.
var ErrConfirmRequired = errors.New("nowplaying: song already queued, confirmation required")

// LockedFunc reports whether a song was previously queued for a gig. Fed by
// the device-local locked-song history.
type LockedFunc func(gigID, songID string) bool

// Pointer writes the now-playing value.
type Pointer struct {
	store    *state.Store
	backend  backend.Store
	locked   LockedFunc
	onQueued func(gigID, songID string)
	logger   log.Log
}

// NewPointer creates a writer. locked and onQueued may be nil.
func NewPointer(st *state.Store, be backend.Store, locked LockedFunc, onQueued func(gigID, songID string), logger log.Log) *Pointer {
	return &Pointer{
		store:    st,
		backend:  be,
		locked:   locked,
		onQueued: onQueued,
		logger:   logger.With(log.String("component", "nowplaying")),
	}
}

// Set queues a song as now playing for a gig. A song that is already
// selected, or is in the locked history for the gig, needs confirm=true;
// this avoids accidental duplicate announcements. The local snapshot
// updates immediately; the backend upsert is asynchronous and its failure
// only raises the error banner.
func (p *Pointer) Set(ctx context.Context, gigID, songID string, confirm bool) error {
	alreadyQueued := false
	p.store.View(func(st *model.AppState) {
		alreadyQueued = st.NowPlaying[gigID] == songID
	})
	if !confirm && (alreadyQueued || (p.locked != nil && p.locked(gigID, songID))) {
		return ErrConfirmRequired
	}

	applied := p.store.CommitChange("set now playing", func(st *model.AppState) {
		st.NowPlaying[gigID] = songID
	})
	if !applied {
		return nil
	}
	if p.onQueued != nil {
		p.onQueued(gigID, songID)
	}

	go func() {
		err := p.backend.Upsert(ctx, backend.CollectionNowPlaying,
			backend.Filter{backend.FieldGigID: gigID},
			map[string]string{
				backend.FieldGigID:  gigID,
				backend.FieldSongID: songID,
			})
		if err != nil {
			p.logger.Error("Now playing upsert failed",
				log.String("gig_id", gigID), log.Error(err))
			p.store.SetLastError(err.Error())
		}
	}()
	return nil
}

// Clear removes the pointer for a gig.
func (p *Pointer) Clear(ctx context.Context, gigID string) {
	applied := p.store.CommitChange("clear now playing", func(st *model.AppState) {
		delete(st.NowPlaying, gigID)
	})
	if !applied {
		return
	}

	go func() {
		_, err := p.backend.Delete(ctx, backend.CollectionNowPlaying,
			backend.Filter{backend.FieldGigID: gigID})
		if err != nil {
			p.logger.Error("Now playing delete failed",
				log.String("gig_id", gigID), log.Error(err))
			p.store.SetLastError(err.Error())
		}
	}()
}

// Poller reads the now-playing collection on a fixed interval and folds
// changed values into the snapshot. A short-lived cache suppresses
// redundant snapshot writes when polled values have not moved.
type Poller struct {
	store    *state.Store
	backend  backend.Store
	interval time.Duration
	seen     *gocache.Cache
	logger   log.Log
}

// NewPoller creates a poller; interval must be positive.
func NewPoller(st *state.Store, be backend.Store, interval time.Duration, logger log.Log) *Poller {
	return &Poller{
		store:    st,
		backend:  be,
		interval: interval,
		seen:     gocache.New(4*interval, 8*interval),
		logger:   logger.With(log.String("component", "nowplaying-poller")),
	}
}

// Run polls until the context is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	rows, err := p.backend.List(ctx, backend.CollectionNowPlaying)
	if err != nil {
		p.logger.Warn("Now playing poll failed", log.Error(err))
		return
	}

	latest := make(map[string]string, len(rows))
	for _, row := range rows {
		if gigID := row.Field(backend.FieldGigID); gigID != "" {
			latest[gigID] = row.Field(backend.FieldSongID)
		}
	}

	// A pointer cleared elsewhere shows up only as an absent row, so gigs
	// known locally but missing from the poll are removals.
	var removed []string
	p.store.View(func(st *model.AppState) {
		for gigID := range st.NowPlaying {
			if _, ok := latest[gigID]; !ok {
				removed = append(removed, gigID)
			}
		}
	})

	changed := len(removed) > 0
	for gigID, songID := range latest {
		if cached, ok := p.seen.Get(gigID); ok && cached.(string) == songID {
			continue
		}
		p.seen.Set(gigID, songID, gocache.DefaultExpiration)
		changed = true
	}
	for _, gigID := range removed {
		p.seen.Delete(gigID)
	}
	if !changed {
		return
	}

	p.store.ApplyRemote(func(st *model.AppState) {
		for gigID, songID := range latest {
			st.NowPlaying[gigID] = songID
		}
		for _, gigID := range removed {
			delete(st.NowPlaying, gigID)
		}
	})
	p.logger.Debug("Now playing updated",
		log.Int("gigs", len(latest)),
		log.Int("cleared", len(removed)))
}
