package console

import (
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// ActionKind tags a queued or ledgered action by the subtree it touches.
type ActionKind string

const (
	ActionTimer ActionKind = "timer"
	ActionScene ActionKind = "scene"
)

// warnQueueDepth is the depth past which the queue starts warning: a sign of
// a prolonged outage, not an error.
const warnQueueDepth = 500

// PendingAction is one mutation issued while disconnected, kept in issuance
// order until it has been sent.
type PendingAction struct {
	Kind       ActionKind  `json:"kind"`
	TimerKey   string      `json:"key,omitempty"`
	TimerPatch timer.Patch `json:"timerPatch,omitzero"`
	ScenePatch scene.Patch `json:"scenePatch,omitzero"`
}

// OfflineQueue buffers operator intent across connectivity gaps. It is
// unbounded; the reconciler's lock guards it.
type OfflineQueue struct {
	actions []PendingAction
}

// Append adds an action to the tail.
func (q *OfflineQueue) Append(a PendingAction) {
	q.actions = append(q.actions, a)
	if len(q.actions) >= warnQueueDepth {
		log.Warn().
			Int("depth", len(q.actions)).
			Msg("offline queue is unusually deep, connection has been down a long time")
	}
}

// Len returns the queue depth.
func (q *OfflineQueue) Len() int { return len(q.actions) }

// Peek returns the head without removing it.
func (q *OfflineQueue) Peek() (PendingAction, bool) {
	if len(q.actions) == 0 {
		return PendingAction{}, false
	}
	return q.actions[0], true
}

// Drop removes the head. Callers drop an entry only after it has been sent;
// at-least-once is acceptable because mutations are idempotent merges.
func (q *OfflineQueue) Drop() {
	if len(q.actions) > 0 {
		q.actions = q.actions[1:]
	}
}
