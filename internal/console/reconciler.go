// Package console implements the client-side half of the sync engine: a
// local mirror of the authoritative state with optimistic edits, rollback on
// rejection, an offline queue, an undo/redo ledger, and an isolated staging
// workspace for scene changes.
package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stagehand-live/stagehand/internal/protocol"
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// ErrNotPreviewing is returned by GoLive outside preview mode.
var ErrNotPreviewing = errors.New("not in preview mode")

// Sender pushes an envelope toward the hub. The websocket client implements
// it; tests substitute an in-process fake.
type Sender interface {
	Send(env protocol.Envelope) error
}

// subtree identifiers for in-flight tracking: hub broadcasts to a subtree
// are deferred while one of our own mutations to it awaits its ack.
const (
	subtreeTimers = "timers"
	subtreeScene  = "scene"
)

type pendingRequest struct {
	id           string
	subtree      string
	beforeTimers timer.Set
	beforeScene  scene.Scene
	goLive       bool
}

// Reconciler gives the local operator immediate feedback while staying
// eventually consistent with the hub. All exported methods are safe for
// concurrent use.
type Reconciler struct {
	mu sync.Mutex

	engine *timer.Engine // local mirror of the timer set, ticked locally
	scene  scene.Scene   // local mirror of the live scene

	sender    Sender
	connected bool

	pending  map[string]*pendingRequest
	order    []string       // pending request ids in issuance order
	inflight map[string]int // per-subtree count of awaiting acks

	queue  OfflineQueue
	ledger Ledger

	previewing bool
	staged     *scene.Scene

	clock clockwork.Clock

	// OnMutationFailed surfaces a rejected or timed-out mutation to the
	// operator after the local rollback has been applied. Optional.
	OnMutationFailed func(requestID string, reason error)
	// OnAdvisory surfaces "another operator is staging" notices. Optional.
	OnAdvisory func(originID string, active bool)
}

// NewReconciler creates a reconciler around a sender. The mirror starts from
// defaults and is replaced wholesale by the hub's hello on connect.
func NewReconciler(sender Sender, policy timer.Policy, clock clockwork.Clock) *Reconciler {
	return &Reconciler{
		engine:   timer.NewEngine(timer.DefaultSet(), policy),
		scene:    scene.Default(),
		sender:   sender,
		pending:  make(map[string]*pendingRequest),
		inflight: make(map[string]int),
		clock:    clock,
	}
}

// Timers returns a copy of the mirrored timer set.
func (r *Reconciler) Timers() timer.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Set
}

// Scene returns a copy of the mirrored live scene. Preview edits never show
// up here until GoLive.
func (r *Reconciler) Scene() scene.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene.Clone()
}

// Connected reports whether the reconciler currently considers itself
// synced with the hub.
func (r *Reconciler) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// QueueDepth reports how many mutations are waiting for reconnection.
func (r *Reconciler) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// MutateTimer applies a timer patch optimistically and submits it to the
// hub, or queues it while offline.
func (r *Reconciler) MutateTimer(key string, p timer.Patch) error {
	if err := p.Validate(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.RecordTimer(key, r.engine.Set)
	return r.applyTimerLocked(key, p, false)
}

// MutateScene applies a scene patch. In preview mode the patch lands on the
// staged scene only and never reaches the hub; otherwise it follows the
// normal optimistic path.
func (r *Reconciler) MutateScene(p scene.Patch) error {
	p = p.Normalize()
	if p.IsZero() {
		return fmt.Errorf("empty scene patch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.previewing {
		r.staged.Apply(p)
		return nil
	}
	r.ledger.RecordScene(r.scene)
	return r.applySceneLocked(p, false, false)
}

// applyTimerLocked is the shared mutation path: optimistic merge, then queue
// or send. Queue replays pass replay=true so a mid-drain disconnect cannot
// requeue an entry that is still sitting at the head of the queue.
func (r *Reconciler) applyTimerLocked(key string, p timer.Patch, replay bool) error {
	before := r.engine.Set
	r.engine.Set.Apply(key, p)

	if !r.connected {
		if !replay {
			r.queue.Append(PendingAction{Kind: ActionTimer, TimerKey: key, TimerPatch: p})
		}
		return nil
	}

	id := uuid.New().String()
	r.track(&pendingRequest{id: id, subtree: subtreeTimers, beforeTimers: before})
	return r.sendLocked(protocol.TypeMutateTimer, protocol.MutateTimer{
		TimerKey:  key,
		Patch:     p,
		RequestID: id,
	})
}

func (r *Reconciler) applySceneLocked(p scene.Patch, replay, goLive bool) error {
	before := r.scene.Clone()
	r.scene.Apply(p)

	if !r.connected {
		if !replay {
			r.queue.Append(PendingAction{Kind: ActionScene, ScenePatch: p})
		}
		if goLive {
			r.commitStagingLocked()
		}
		return nil
	}

	id := uuid.New().String()
	r.track(&pendingRequest{id: id, subtree: subtreeScene, beforeScene: before, goLive: goLive})
	return r.sendLocked(protocol.TypeMutateScene, protocol.MutateScene{
		Patch:     p,
		RequestID: id,
	})
}

func (r *Reconciler) track(req *pendingRequest) {
	r.pending[req.id] = req
	r.order = append(r.order, req.id)
	r.inflight[req.subtree]++
}

func (r *Reconciler) untrack(req *pendingRequest) {
	delete(r.pending, req.id)
	for i, id := range r.order {
		if id == req.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.inflight[req.subtree]--
}

func (r *Reconciler) sendLocked(t protocol.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return r.sender.Send(protocol.Envelope{Type: t, Data: data})
}

// ResetAll asks the hub to return the segment and elapsed timers to idle.
// The reset is not applied optimistically: the hub answers with a full state
// broadcast that lands on every console, this one included.
func (r *Reconciler) ResetAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return fmt.Errorf("resetAll requires a live connection")
	}
	return r.sendLocked(protocol.TypeResetAll, protocol.ResetAll{
		RequestID: uuid.New().String(),
	})
}
