package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/hub"
	"github.com/stagehand-live/stagehand/internal/media"
	"github.com/stagehand-live/stagehand/internal/snapshot"
	"github.com/stagehand-live/stagehand/internal/state"
)

type Services struct {
	Hub         *hub.Hub
	WSHandler   *hub.WSHandler
	Media       *media.Handler
	Snapshots   *snapshot.Store
	Snapshotter *snapshot.Snapshotter
}

func setupServices(ctx context.Context, cfg Config, db *sql.DB) (*Services, error) {
	snapStore, err := snapshot.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to set up snapshot store: %w", err)
	}

	initial := bootState(ctx, snapStore)

	mediaStore, err := media.NewStore(db, cfg.Storage.MediaDir, cfg.Storage.MediaQuotaBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to set up media store: %w", err)
	}

	clock := clockwork.NewRealClock()
	hubCfg := hub.DefaultConfig()
	hubCfg.TickInterval = cfg.TickInterval()
	hubCfg.TimerPolicy = cfg.TimerPolicy()
	h := hub.New(hubCfg, initial, clock)

	return &Services{
		Hub:         h,
		WSHandler:   hub.NewWSHandler(h.Connections()),
		Media:       media.NewHandler(mediaStore),
		Snapshots:   snapStore,
		Snapshotter: snapshot.NewSnapshotter(snapStore, h, cfg.SnapshotInterval(), clock),
	}, nil
}

// bootState restores the latest snapshot, migrating it forward as needed.
// An unmigratable snapshot must not be served: the process falls back to
// defaults with a loud warning rather than silently corrupting state.
func bootState(ctx context.Context, store *snapshot.Store) state.AppState {
	st, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrUnknownSchema) {
			log.Error().Err(err).Msg("SNAPSHOT SCHEMA IS NOT MIGRATABLE, STARTING FROM DEFAULTS")
		} else {
			log.Error().Err(err).Msg("failed to load snapshot, starting from defaults")
		}
		return state.Default()
	}
	if st == nil {
		log.Info().Msg("no snapshot found, starting from defaults")
		return state.Default()
	}
	log.Info().Msg("restored state from snapshot")
	return *st
}
