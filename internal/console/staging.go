package console

import (
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/protocol"
	"github.com/stagehand-live/stagehand/internal/scene"
)

// EnterPreview clones the live scene into an isolated staging copy. While
// previewing, scene mutations land on the staged copy only; the live scene
// is untouched until GoLive. Other consoles get a non-binding advisory.
func (r *Reconciler) EnterPreview() {
	r.mu.Lock()
	if r.previewing {
		r.mu.Unlock()
		return
	}
	staged := r.scene.Clone()
	r.staged = &staged
	r.previewing = true
	r.sendAdvisoryLocked(true)
	r.mu.Unlock()

	log.Debug().Msg("entered preview mode")
}

// ExitPreview discards the staged scene without touching the live one.
func (r *Reconciler) ExitPreview() {
	r.mu.Lock()
	if !r.previewing {
		r.mu.Unlock()
		return
	}
	r.staged = nil
	r.previewing = false
	r.sendAdvisoryLocked(false)
	r.mu.Unlock()

	log.Debug().Msg("discarded preview")
}

// GoLive commits the staged scene as a single authoritative scene mutation,
// bypassing the staging redirect. The staged copy is discarded once the hub
// acknowledges the commit; a rejection rolls the live mirror back and keeps
// the draft for another attempt.
func (r *Reconciler) GoLive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.previewing {
		return ErrNotPreviewing
	}

	r.ledger.RecordScene(r.scene)
	return r.applySceneLocked(r.staged.FullPatch(), false, true)
}

// Previewing reports whether a staged scene is open.
func (r *Reconciler) Previewing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewing
}

// Staged returns a copy of the staged scene, or false when not previewing.
func (r *Reconciler) Staged() (scene.Scene, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.previewing {
		return scene.Scene{}, false
	}
	return r.staged.Clone(), true
}

// commitStagingLocked finalizes a successful go-live.
func (r *Reconciler) commitStagingLocked() {
	r.staged = nil
	r.previewing = false
	r.sendAdvisoryLocked(false)
	log.Info().Msg("staged scene committed to live")
}

// sendAdvisoryLocked tells the hub about our preview state. Advisories are
// fire-and-forget: no ack, no queueing while offline.
func (r *Reconciler) sendAdvisoryLocked(active bool) {
	if !r.connected {
		return
	}
	if err := r.sendLocked(protocol.TypeStagingAdvisory, protocol.StagingAdvisory{Active: active}); err != nil {
		log.Warn().Err(err).Msg("failed to send staging advisory")
	}
}
