// Package state defines the authoritative aggregate and its schema
// migrations.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// SchemaVersion is the current snapshot schema. Version 1 predates the
// chroma-key and theme scene fields.
const SchemaVersion = 2

// ErrUnknownSchema marks a snapshot no forward migration can handle. The
// process must not serve such a snapshot; it falls back to defaults with a
// loud warning instead.
var ErrUnknownSchema = errors.New("unknown snapshot schema version")

// AppState is the authoritative aggregate: the full timer set plus the
// active scene. It is created once at boot and mutated only inside the hub's
// event loop.
type AppState struct {
	Timers        timer.Set   `json:"timers"`
	Scene         scene.Scene `json:"currentScene"`
	SchemaVersion int         `json:"schemaVersion"`
}

// Default returns the boot-time state used when no snapshot exists.
func Default() AppState {
	return AppState{
		Timers:        timer.DefaultSet(),
		Scene:         scene.Default(),
		SchemaVersion: SchemaVersion,
	}
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (s AppState) Clone() AppState {
	out := s
	out.Scene = s.Scene.Clone()
	return out
}

// Decode unmarshals a persisted snapshot of the given schema version,
// migrating forward as needed.
func Decode(version int, data []byte) (AppState, error) {
	switch version {
	case SchemaVersion:
		var st AppState
		if err := json.Unmarshal(data, &st); err != nil {
			return AppState{}, fmt.Errorf("decode v%d snapshot: %w", version, err)
		}
		st.SchemaVersion = SchemaVersion
		return st, nil
	case 1:
		return migrateV1(data)
	default:
		return AppState{}, fmt.Errorf("%w: %d", ErrUnknownSchema, version)
	}
}

// migrateV1 upgrades a v1 snapshot, which lacked the chromaKey and theme
// scene fields. Missing fields take their defaults.
func migrateV1(data []byte) (AppState, error) {
	var v1 struct {
		Timers timer.Set `json:"timers"`
		Scene  struct {
			Background   *string `json:"background"`
			OverlayText  string  `json:"overlayText"`
			TimerVisible bool    `json:"timerVisible"`
		} `json:"currentScene"`
	}
	if err := json.Unmarshal(data, &v1); err != nil {
		return AppState{}, fmt.Errorf("decode v1 snapshot: %w", err)
	}
	st := Default()
	st.Timers = v1.Timers
	st.Scene.Background = v1.Scene.Background
	st.Scene.OverlayText = v1.Scene.OverlayText
	st.Scene.TimerVisible = v1.Scene.TimerVisible
	return st, nil
}
