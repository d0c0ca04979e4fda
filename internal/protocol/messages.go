// Package protocol defines the JSON wire protocol spoken between the hub and
// its control consoles. The transport is message-based and bidirectional;
// every message is an Envelope carrying a typed payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/state"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// Type identifies the payload carried by an envelope.
type Type string

const (
	// Server -> client.
	TypeHello           Type = "hello"
	TypeAck             Type = "ack"
	TypeTimerDelta      Type = "timerDelta"
	TypeSceneDelta      Type = "sceneDelta"
	TypeFullState       Type = "fullState"
	TypeStagingAdvisory Type = "stagingAdvisory"

	// Client -> server. StagingAdvisory travels both ways: a console
	// announces its own preview state and the hub relays it to the others.
	TypeMutateTimer Type = "mutateTimer"
	TypeMutateScene Type = "mutateScene"
	TypeResetAll    Type = "resetAll"
)

// Ack statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the wire frame for every message.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello seeds a new connection with the full authoritative state.
type Hello struct {
	State state.AppState `json:"state"`
}

// MutateTimer asks the hub to merge a patch into one timer.
type MutateTimer struct {
	TimerKey  string      `json:"timerKey"`
	Patch     timer.Patch `json:"partial"`
	RequestID string      `json:"requestId"`
}

// MutateScene asks the hub to merge a patch into the live scene.
type MutateScene struct {
	Patch     scene.Patch `json:"partial"`
	RequestID string      `json:"requestId"`
}

// ResetAll asks the hub to return the segment and elapsed timers to idle.
type ResetAll struct {
	RequestID string `json:"requestId"`
}

// Ack is the hub's reply to the originating connection, correlated by
// request id.
type Ack struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// TimerDelta is the broadcast form of an applied timer mutation: the updated
// subtree only, sent to every connection except the requester.
type TimerDelta struct {
	TimerKey string      `json:"timerKey"`
	Patch    timer.Patch `json:"partial"`
}

// SceneDelta is the broadcast form of an applied scene mutation.
type SceneDelta struct {
	Patch scene.Patch `json:"partial"`
}

// FullState is broadcast when the whole aggregate changed at once, e.g.
// after resetAll.
type FullState struct {
	State state.AppState `json:"state"`
}

// StagingAdvisory is non-authoritative: it signals that an operator entered
// or left preview mode. It never mutates shared state and is never acked.
type StagingAdvisory struct {
	Active   bool   `json:"active"`
	OriginID string `json:"originId,omitempty"`
}

// Encode wraps a payload in an envelope and marshals it.
func Encode(t Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// MustEncode is Encode for payloads that cannot fail to marshal. It panics
// on error and exists for broadcast paths where the payload was just built
// from our own structs.
func MustEncode(t Type, payload any) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}
