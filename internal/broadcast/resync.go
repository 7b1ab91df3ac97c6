package broadcast

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/duel-tourney-backend/internal/types"
)

// LoadTimeout bounds one shared store read.
const LoadTimeout = 5 * time.Second

// Loader reads a fresh snapshot of a session from the store.
type Loader func(ctx context.Context, sessionID string) (types.Snapshot, error)

// Resyncer rebuilds snapshot events on reconnect. Concurrent reads of the same
// session share one store round trip.
type Resyncer struct {
	load  Loader
	group singleflight.Group
}

func NewResyncer(load Loader) *Resyncer {
	return &Resyncer{load: load}
}

// Resync returns as soon as ctx is done, but the shared read keeps going for
// the other callers waiting on it.
func (r *Resyncer) Resync(ctx context.Context, sessionID string) (Event, error) {
	ch := r.group.DoChan(sessionID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		return r.load(lctx, sessionID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
	if res.Err != nil {
		return Event{}, res.Err
	}
	snap := res.Val.(types.Snapshot)
	return Event{Type: Snapshot, SessionID: sessionID, Version: snap.Version, Snapshot: &snap}, nil
}
