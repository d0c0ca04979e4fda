package console

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/protocol"
)

// HandleEnvelope processes a message pushed by the hub. The transport calls
// it from its read loop.
func (r *Reconciler) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHello:
		r.handleHello(env.Data)
	case protocol.TypeAck:
		r.handleAck(env.Data)
	case protocol.TypeTimerDelta:
		r.handleTimerDelta(env.Data)
	case protocol.TypeSceneDelta:
		r.handleSceneDelta(env.Data)
	case protocol.TypeFullState:
		r.handleFullState(env.Data)
	case protocol.TypeStagingAdvisory:
		r.handleAdvisory(env.Data)
	default:
		log.Warn().Str("type", string(env.Type)).Msg("ignoring unknown hub message")
	}
}

// handleHello is the resync point: the hub's snapshot replaces the whole
// mirror, then any mutations queued while offline replay in issuance order.
func (r *Reconciler) handleHello(data json.RawMessage) {
	var hello protocol.Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		log.Error().Err(err).Msg("malformed hello from hub")
		return
	}

	r.mu.Lock()
	r.engine.Set = hello.State.Timers
	r.scene = hello.State.Scene.Clone()
	r.connected = true
	log.Info().Int("queued", r.queue.Len()).Msg("resynced with hub")
	r.drainQueueLocked()
	// A preview opened while offline, or carried across a reconnect, was
	// never announced on this connection; other operators need the signal.
	if r.previewing {
		r.sendAdvisoryLocked(true)
	}
	r.mu.Unlock()
}

// drainQueueLocked replays offline mutations strictly in FIFO order. An
// entry is dropped only once its send succeeded; a mid-drain disconnect
// leaves the rest queued for the next reconnect.
func (r *Reconciler) drainQueueLocked() {
	for r.connected {
		action, ok := r.queue.Peek()
		if !ok {
			return
		}
		var err error
		switch action.Kind {
		case ActionTimer:
			err = r.applyTimerLocked(action.TimerKey, action.TimerPatch, true)
		case ActionScene:
			err = r.applySceneLocked(action.ScenePatch, true, false)
		}
		if err != nil {
			log.Warn().Err(err).Msg("offline replay interrupted, keeping remaining entries")
			return
		}
		r.queue.Drop()
	}
}

func (r *Reconciler) handleAck(data json.RawMessage) {
	var ack protocol.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		log.Error().Err(err).Msg("malformed ack from hub")
		return
	}

	r.mu.Lock()
	req, ok := r.pending[ack.RequestID]
	if !ok {
		r.mu.Unlock()
		log.Debug().Str("request_id", ack.RequestID).Msg("ack for unknown request")
		return
	}
	r.untrack(req)

	var failure error
	if ack.Status == protocol.StatusOK {
		// Local state already reflects the change. A pending go-live
		// commit now discards the staged scene.
		if req.goLive {
			r.commitStagingLocked()
		}
	} else {
		failure = fmt.Errorf("mutation rejected by hub: %s", ack.Message)
		r.rollbackLocked(req)
	}
	cb := r.OnMutationFailed
	r.mu.Unlock()

	if failure != nil {
		log.Warn().Str("request_id", ack.RequestID).Err(failure).Msg("rolled back optimistic edit")
		if cb != nil {
			cb(ack.RequestID, failure)
		}
	}
}

// rollbackLocked restores the pre-mutation value captured when the request
// was issued.
func (r *Reconciler) rollbackLocked(req *pendingRequest) {
	switch req.subtree {
	case subtreeTimers:
		r.engine.Set = req.beforeTimers
	case subtreeScene:
		r.scene = req.beforeScene.Clone()
	}
}

// handleTimerDelta merges a remote timer update unless one of our own timer
// mutations is in flight, in which case the broadcast is dropped for that
// subtree so it cannot clobber the optimistic edit. The accepted tradeoff is
// a narrow window where a concurrent remote edit stays masked until our ack
// resolves.
func (r *Reconciler) handleTimerDelta(data json.RawMessage) {
	var delta protocol.TimerDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		log.Error().Err(err).Msg("malformed timer delta from hub")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[subtreeTimers] > 0 {
		log.Debug().Str("timer_key", delta.TimerKey).Msg("deferring timer broadcast, local mutation in flight")
		return
	}
	r.engine.Set.Apply(delta.TimerKey, delta.Patch)
}

func (r *Reconciler) handleSceneDelta(data json.RawMessage) {
	var delta protocol.SceneDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		log.Error().Err(err).Msg("malformed scene delta from hub")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[subtreeScene] > 0 {
		log.Debug().Msg("deferring scene broadcast, local mutation in flight")
		return
	}
	// Remote edits land on the live mirror even in preview mode; the
	// staged scene stays isolated either way.
	r.scene.Apply(delta.Patch)
}

func (r *Reconciler) handleFullState(data json.RawMessage) {
	var full protocol.FullState
	if err := json.Unmarshal(data, &full); err != nil {
		log.Error().Err(err).Msg("malformed full state from hub")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[subtreeTimers] == 0 {
		r.engine.Set = full.State.Timers
	}
	if r.inflight[subtreeScene] == 0 {
		r.scene = full.State.Scene.Clone()
	}
}

func (r *Reconciler) handleAdvisory(data json.RawMessage) {
	var adv protocol.StagingAdvisory
	if err := json.Unmarshal(data, &adv); err != nil {
		log.Error().Err(err).Msg("malformed staging advisory from hub")
		return
	}
	if r.OnAdvisory != nil {
		r.OnAdvisory(adv.OriginID, adv.Active)
	}
}

// HandleDisconnected is called by the transport when the connection drops.
// Every in-flight mutation is treated as failed: rolled back in reverse
// issuance order and surfaced to the operator, never requeued, because by
// the time the link returns the edit may already be stale.
func (r *Reconciler) HandleDisconnected() {
	r.mu.Lock()
	r.connected = false

	failed := make([]*pendingRequest, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if req, ok := r.pending[r.order[i]]; ok {
			failed = append(failed, req)
			r.rollbackLocked(req)
		}
	}
	r.pending = make(map[string]*pendingRequest)
	r.order = nil
	r.inflight = make(map[string]int)
	cb := r.OnMutationFailed
	r.mu.Unlock()

	if len(failed) > 0 {
		log.Warn().Int("rolled_back", len(failed)).Msg("connection lost with mutations in flight")
	}
	if cb != nil {
		for _, req := range failed {
			cb(req.id, fmt.Errorf("no acknowledgement before disconnect"))
		}
	}
}

// Run ticks the local mirror once per second for smooth display between
// network updates. Hub broadcasts always override the locally advanced
// values; the local tick is cosmetic, the server is authoritative.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.mu.Lock()
			r.engine.Tick(r.clock.Now())
			r.mu.Unlock()
		}
	}
}
