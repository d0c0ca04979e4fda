// Package hub is the authoritative side of the control plane: a single event
// loop owns the timer set and live scene, ticks them forward, applies client
// mutations, and fans deltas out to every connected console.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/protocol"
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/state"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// Hub serializes every mutation of the shared state through one goroutine.
// A tick and an incoming mutation never interleave mid-update, and
// per-connection request order is preserved end to end. No ordering is
// promised across connections: concurrent edits to the same field resolve by
// whichever one the loop processes last.
type Hub struct {
	cm     *ConnectionManager
	engine *timer.Engine
	scene  scene.Scene

	clock        clockwork.Clock
	tickInterval time.Duration

	stateReq chan stateRequest
}

type stateRequest struct {
	reply chan state.AppState
}

// Config holds hub tuning.
type Config struct {
	Connection   ConnectionConfig
	TickInterval time.Duration
	TimerPolicy  timer.Policy
}

// DefaultConfig returns the nominal 1 Hz hub configuration.
func DefaultConfig() Config {
	return Config{
		Connection:   DefaultConnectionConfig(),
		TickInterval: time.Second,
		TimerPolicy:  timer.DefaultPolicy(),
	}
}

// New creates a hub seeded with the given state, typically restored from a
// snapshot.
func New(cfg Config, initial state.AppState, clock clockwork.Clock) *Hub {
	return &Hub{
		cm:           NewConnectionManager(cfg.Connection),
		engine:       timer.NewEngine(initial.Timers, cfg.TimerPolicy),
		scene:        initial.Scene.Clone(),
		clock:        clock,
		tickInterval: cfg.TickInterval,
		stateReq:     make(chan stateRequest),
	}
}

// Connections exposes the connection manager for HTTP wiring.
func (h *Hub) Connections() *ConnectionManager { return h.cm }

// Run drives the event loop until ctx is cancelled. Everything that touches
// the state happens inside this loop.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.tickInterval)
	defer ticker.Stop()

	log.Info().Dur("tick_interval", h.tickInterval).Msg("hub event loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub event loop shutting down")
			return
		case <-ticker.Chan():
			h.engine.Tick(h.clock.Now())
		case conn := <-h.cm.joinCh:
			h.seedConnection(conn)
		case msg := <-h.cm.inboundCh:
			h.handleMessage(msg.conn, msg.env)
		case req := <-h.stateReq:
			req.reply <- h.snapshotState()
		}
	}
}

// State returns a consistent copy of the authoritative state, serialized
// through the event loop. It is the persistence layer's read path.
func (h *Hub) State(ctx context.Context) (state.AppState, error) {
	req := stateRequest{reply: make(chan state.AppState, 1)}
	select {
	case h.stateReq <- req:
	case <-ctx.Done():
		return state.AppState{}, ctx.Err()
	}
	select {
	case st := <-req.reply:
		return st, nil
	case <-ctx.Done():
		return state.AppState{}, ctx.Err()
	}
}

func (h *Hub) snapshotState() state.AppState {
	return state.AppState{
		Timers:        h.engine.Set,
		Scene:         h.scene.Clone(),
		SchemaVersion: state.SchemaVersion,
	}
}

// seedConnection sends a new connection the full current state as its
// reconciliation baseline.
func (h *Hub) seedConnection(conn *Connection) {
	data, err := protocol.Encode(protocol.TypeHello, protocol.Hello{State: h.snapshotState()})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode hello")
		return
	}
	h.cm.SendTo(conn, data)
}

func (h *Hub) handleMessage(conn *Connection, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMutateTimer:
		h.handleMutateTimer(conn, env.Data)
	case protocol.TypeMutateScene:
		h.handleMutateScene(conn, env.Data)
	case protocol.TypeResetAll:
		h.handleResetAll(conn, env.Data)
	case protocol.TypeStagingAdvisory:
		h.handleStagingAdvisory(conn, env.Data)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("type", string(env.Type)).
			Msg("ignoring unknown message type")
	}
}

func (h *Hub) handleMutateTimer(conn *Connection, data json.RawMessage) {
	var req protocol.MutateTimer
	if err := json.Unmarshal(data, &req); err != nil {
		h.ackError(conn, "", fmt.Sprintf("malformed mutateTimer payload: %v", err))
		return
	}
	if err := req.Patch.Validate(req.TimerKey); err != nil {
		h.ackError(conn, req.RequestID, err.Error())
		return
	}

	h.engine.Set.Apply(req.TimerKey, req.Patch)
	h.ackOK(conn, req.RequestID)

	// Broadcast the whole updated subtree rather than the raw request so
	// every mirror converges on the authoritative value even when a
	// duration change implied a remaining reset.
	delta := protocol.MustEncode(protocol.TypeTimerDelta, protocol.TimerDelta{
		TimerKey: req.TimerKey,
		Patch:    h.engine.Set.FullPatch(req.TimerKey),
	})
	h.cm.Broadcast(delta, conn)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("timer_key", req.TimerKey).
		Msg("timer mutation applied")
}

func (h *Hub) handleMutateScene(conn *Connection, data json.RawMessage) {
	var req protocol.MutateScene
	if err := json.Unmarshal(data, &req); err != nil {
		h.ackError(conn, "", fmt.Sprintf("malformed mutateScene payload: %v", err))
		return
	}
	patch := req.Patch.Normalize()
	if patch.IsZero() {
		h.ackError(conn, req.RequestID, "empty scene patch")
		return
	}

	h.scene.Apply(patch)
	h.ackOK(conn, req.RequestID)

	delta := protocol.MustEncode(protocol.TypeSceneDelta, protocol.SceneDelta{Patch: patch})
	h.cm.Broadcast(delta, conn)

	log.Debug().
		Str("connection_id", conn.ID).
		Msg("scene mutation applied")
}

// handleResetAll returns the segment and elapsed timers to idle and pushes
// the full post-reset state to every connection, requester included.
func (h *Hub) handleResetAll(conn *Connection, data json.RawMessage) {
	var req protocol.ResetAll
	if err := json.Unmarshal(data, &req); err != nil {
		h.ackError(conn, "", fmt.Sprintf("malformed resetAll payload: %v", err))
		return
	}

	h.engine.ResetAll()
	h.ackOK(conn, req.RequestID)

	full := protocol.MustEncode(protocol.TypeFullState, protocol.FullState{State: h.snapshotState()})
	h.cm.Broadcast(full, nil)

	log.Info().Str("connection_id", conn.ID).Msg("timers reset")
}

// handleStagingAdvisory relays "someone is staging" to the other consoles.
// It never mutates state and is never acked.
func (h *Hub) handleStagingAdvisory(conn *Connection, data json.RawMessage) {
	var adv protocol.StagingAdvisory
	if err := json.Unmarshal(data, &adv); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("dropping malformed staging advisory")
		return
	}
	adv.OriginID = conn.ID
	h.cm.Broadcast(protocol.MustEncode(protocol.TypeStagingAdvisory, adv), conn)
}

func (h *Hub) ackOK(conn *Connection, requestID string) {
	h.cm.SendTo(conn, protocol.MustEncode(protocol.TypeAck, protocol.Ack{
		RequestID: requestID,
		Status:    protocol.StatusOK,
	}))
}

func (h *Hub) ackError(conn *Connection, requestID, message string) {
	h.cm.SendTo(conn, protocol.MustEncode(protocol.TypeAck, protocol.Ack{
		RequestID: requestID,
		Status:    protocol.StatusError,
		Message:   message,
	}))
	log.Warn().
		Str("connection_id", conn.ID).
		Str("request_id", requestID).
		Str("reason", message).
		Msg("mutation rejected")
}
