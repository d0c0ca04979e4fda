package snapshot

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/state"
)

// Source yields a consistent copy of the authoritative state. The hub
// implements this by serializing the read through its event loop.
type Source interface {
	State(ctx context.Context) (state.AppState, error)
}

// Snapshotter persists the state on a fixed interval. Saves run off the
// mutation path: a mutation is acknowledged to its client regardless of when
// the next snapshot lands, which accepts a small loss window on crash.
type Snapshotter struct {
	store    *Store
	source   Source
	interval time.Duration
	clock    clockwork.Clock
}

// NewSnapshotter creates a periodic snapshotter.
func NewSnapshotter(store *Store, source Source, interval time.Duration, clock clockwork.Clock) *Snapshotter {
	return &Snapshotter{store: store, source: source, interval: interval, clock: clock}
}

// Run blocks until ctx is cancelled, snapshotting every interval. Write
// failures are logged and retried on the next interval.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("snapshotter started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("snapshotter shutting down")
			return
		case <-ticker.Chan():
			s.snapshot(ctx)
		}
	}
}

func (s *Snapshotter) snapshot(ctx context.Context) {
	st, err := s.source.State(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read state for snapshot")
		return
	}
	if err := s.store.Save(ctx, st); err != nil {
		log.Error().Err(err).Msg("failed to persist snapshot, will retry next interval")
		return
	}
	log.Debug().Msg("state snapshot persisted")
}
