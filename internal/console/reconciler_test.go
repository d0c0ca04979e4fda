package console

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stagehand-live/stagehand/internal/protocol"
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/state"
	"github.com/stagehand-live/stagehand/internal/timer"
)

type fakeSender struct {
	sent    []protocol.Envelope
	sendErr error
}

func (f *fakeSender) Send(env protocol.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) last(t *testing.T) protocol.Envelope {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	rec := NewReconciler(sender, timer.DefaultPolicy(), clockwork.NewFakeClock())
	return rec, sender
}

func envelope(t *testing.T, typ protocol.Type, payload any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	return protocol.Envelope{Type: typ, Data: data}
}

func connect(t *testing.T, rec *Reconciler) {
	t.Helper()
	rec.HandleEnvelope(envelope(t, protocol.TypeHello, protocol.Hello{State: state.Default()}))
	if !rec.Connected() {
		t.Fatal("hello should mark the reconciler connected")
	}
}

func requestID(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	switch env.Type {
	case protocol.TypeMutateTimer:
		var m protocol.MutateTimer
		if err := json.Unmarshal(env.Data, &m); err != nil {
			t.Fatalf("unmarshal mutateTimer: %v", err)
		}
		return m.RequestID
	case protocol.TypeMutateScene:
		var m protocol.MutateScene
		if err := json.Unmarshal(env.Data, &m); err != nil {
			t.Fatalf("unmarshal mutateScene: %v", err)
		}
		return m.RequestID
	}
	t.Fatalf("envelope %s has no request id", env.Type)
	return ""
}

func ackOK(t *testing.T, rec *Reconciler, id string) {
	t.Helper()
	rec.HandleEnvelope(envelope(t, protocol.TypeAck, protocol.Ack{RequestID: id, Status: protocol.StatusOK}))
}

func ackError(t *testing.T, rec *Reconciler, id, msg string) {
	t.Helper()
	rec.HandleEnvelope(envelope(t, protocol.TypeAck, protocol.Ack{
		RequestID: id, Status: protocol.StatusError, Message: msg,
	}))
}

func strptr(s string) *string { return &s }
func intptr(i int) *int       { return &i }
func boolptr(b bool) *bool    { return &b }

func TestOptimisticApplyThenAck(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("A")}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := rec.Scene().OverlayText; got != "A" {
		t.Fatalf("overlayText = %q before ack, want optimistic %q", got, "A")
	}

	ackOK(t, rec, requestID(t, sender.last(t)))
	if got := rec.Scene().OverlayText; got != "A" {
		t.Fatalf("overlayText = %q after ack, want %q", got, "A")
	}
}

func TestRollbackOnErrorAck(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	var failed []string
	rec.OnMutationFailed = func(id string, reason error) { failed = append(failed, id) }

	before := rec.Scene()
	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("oops")}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	id := requestID(t, sender.last(t))
	ackError(t, rec, id, "rejected")

	if got := rec.Scene(); got.OverlayText != before.OverlayText {
		t.Fatalf("overlayText = %q after rollback, want pre-mutation %q", got.OverlayText, before.OverlayText)
	}
	if len(failed) != 1 || failed[0] != id {
		t.Fatalf("failure not surfaced: %v", failed)
	}
}

func TestTimerRollbackRestoresExactValue(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	before := rec.Timers()
	if err := rec.MutateTimer(timer.KeySegment, timer.Patch{Duration: intptr(900)}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if rec.Timers().Segment.Duration != 900 {
		t.Fatal("optimistic duration not applied")
	}

	ackError(t, rec, requestID(t, sender.last(t)), "nope")
	if got := rec.Timers(); got != before {
		t.Fatalf("timers = %+v after rollback, want %+v", got, before)
	}
}

func TestBroadcastDeferredWhileMutationInFlight(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	if err := rec.MutateTimer(timer.KeySegment, timer.Patch{Running: boolptr(true)}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// A stale broadcast during the in-flight window must not clobber the
	// optimistic edit.
	rec.HandleEnvelope(envelope(t, protocol.TypeTimerDelta, protocol.TimerDelta{
		TimerKey: timer.KeySegment,
		Patch:    timer.Patch{Running: boolptr(false), Remaining: intptr(5)},
	}))
	if got := rec.Timers().Segment; !got.Running {
		t.Fatalf("broadcast clobbered in-flight edit: %+v", got)
	}

	ackOK(t, rec, requestID(t, sender.last(t)))

	// With the ack resolved, broadcasts flow again.
	rec.HandleEnvelope(envelope(t, protocol.TypeTimerDelta, protocol.TimerDelta{
		TimerKey: timer.KeySegment,
		Patch:    timer.Patch{Remaining: intptr(5)},
	}))
	if got := rec.Timers().Segment.Remaining; got != 5 {
		t.Fatalf("remaining = %d, want broadcast value 5", got)
	}
}

func TestSceneBroadcastAppliesWhenIdle(t *testing.T) {
	rec, _ := newTestReconciler(t)
	connect(t, rec)

	rec.HandleEnvelope(envelope(t, protocol.TypeSceneDelta, protocol.SceneDelta{
		Patch: scene.Patch{OverlayText: strptr("remote")},
	}))
	if got := rec.Scene().OverlayText; got != "remote" {
		t.Fatalf("overlayText = %q, want remote broadcast applied", got)
	}
}

func TestOfflineQueueReplaysInOrder(t *testing.T) {
	rec, sender := newTestReconciler(t)
	// Never connected: everything queues.

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("one")}); err != nil {
		t.Fatalf("mutate 1: %v", err)
	}
	if err := rec.MutateTimer(timer.KeySegment, timer.Patch{Duration: intptr(600)}); err != nil {
		t.Fatalf("mutate 2: %v", err)
	}
	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("three")}); err != nil {
		t.Fatalf("mutate 3: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Fatalf("offline mutations must not hit the transport, sent %d", len(sender.sent))
	}
	if rec.QueueDepth() != 3 {
		t.Fatalf("queue depth = %d, want 3", rec.QueueDepth())
	}

	connect(t, rec)

	if rec.QueueDepth() != 0 {
		t.Fatalf("queue depth = %d after reconnect, want 0", rec.QueueDepth())
	}
	if len(sender.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sender.sent))
	}
	wantTypes := []protocol.Type{protocol.TypeMutateScene, protocol.TypeMutateTimer, protocol.TypeMutateScene}
	for i, env := range sender.sent {
		if env.Type != wantTypes[i] {
			t.Fatalf("send %d type = %s, want %s (strict FIFO)", i, env.Type, wantTypes[i])
		}
	}
	var first protocol.MutateScene
	if err := json.Unmarshal(sender.sent[0].Data, &first); err != nil {
		t.Fatalf("unmarshal first replay: %v", err)
	}
	if *first.Patch.OverlayText != "one" {
		t.Fatalf("first replay = %q, want the first issued mutation", *first.Patch.OverlayText)
	}
}

func TestReplayReappliesOnTopOfHello(t *testing.T) {
	rec, _ := newTestReconciler(t)

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("queued")}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	// The hub's hello carries different text, but the queued intent wins
	// locally after replay.
	st := state.Default()
	st.Scene.OverlayText = "server"
	rec.HandleEnvelope(envelope(t, protocol.TypeHello, protocol.Hello{State: st}))

	if got := rec.Scene().OverlayText; got != "queued" {
		t.Fatalf("overlayText = %q, want replayed %q", got, "queued")
	}
}

func TestDisconnectRollsBackInFlightAndDoesNotRequeue(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	var failed int
	rec.OnMutationFailed = func(string, error) { failed++ }

	before := rec.Timers()
	if err := rec.MutateTimer(timer.KeySegment, timer.Patch{Running: boolptr(true)}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}

	rec.HandleDisconnected()

	if got := rec.Timers(); got != before {
		t.Fatalf("timers = %+v, want rollback to %+v", got, before)
	}
	if failed != 1 {
		t.Fatalf("failed callbacks = %d, want 1", failed)
	}
	if rec.QueueDepth() != 0 {
		t.Fatal("an unacknowledged mutation must not be requeued")
	}
}

func TestUndoRedoSequence(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	mutate := func(text string) {
		t.Helper()
		if err := rec.MutateScene(scene.Patch{OverlayText: strptr(text)}); err != nil {
			t.Fatalf("mutate %q: %v", text, err)
		}
		ackOK(t, rec, requestID(t, sender.last(t)))
	}

	mutate("A")
	mutate("B")

	if err := rec.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	ackOK(t, rec, requestID(t, sender.last(t)))
	if got := rec.Scene().OverlayText; got != "A" {
		t.Fatalf("after undo overlayText = %q, want %q", got, "A")
	}

	if err := rec.Redo(); err != nil {
		t.Fatalf("redo: %v", err)
	}
	ackOK(t, rec, requestID(t, sender.last(t)))
	if got := rec.Scene().OverlayText; got != "B" {
		t.Fatalf("after redo overlayText = %q, want %q", got, "B")
	}
}

func TestUndoEmptyLedgerIsNoOp(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	if err := rec.Undo(); err != nil {
		t.Fatalf("undo on empty ledger: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("undo on empty ledger must not send anything")
	}
}

func TestNewMutationClearsRedo(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	mutate := func(text string) {
		t.Helper()
		if err := rec.MutateScene(scene.Patch{OverlayText: strptr(text)}); err != nil {
			t.Fatalf("mutate %q: %v", text, err)
		}
		ackOK(t, rec, requestID(t, sender.last(t)))
	}

	mutate("A")
	if err := rec.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	ackOK(t, rec, requestID(t, sender.last(t)))
	mutate("C")

	if _, redo := rec.LedgerDepths(); redo != 0 {
		t.Fatalf("redo depth = %d after fresh mutation, want 0", redo)
	}
}

func TestUndoDoesNotRecaptureItself(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("A")}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	ackOK(t, rec, requestID(t, sender.last(t)))

	undoBefore, _ := rec.LedgerDepths()
	if err := rec.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	undoAfter, _ := rec.LedgerDepths()
	if undoAfter != undoBefore-1 {
		t.Fatalf("undo depth went %d -> %d, replay must not re-push", undoBefore, undoAfter)
	}
}

func TestStagingIsolation(t *testing.T) {
	rec, _ := newTestReconciler(t)
	connect(t, rec)

	liveBefore := rec.Scene()
	rec.EnterPreview()

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("draft")}); err != nil {
		t.Fatalf("staged mutate: %v", err)
	}
	staged, ok := rec.Staged()
	if !ok || staged.OverlayText != "draft" {
		t.Fatalf("staged = %+v, want the draft edit", staged)
	}
	if got := rec.Scene(); got.OverlayText != liveBefore.OverlayText {
		t.Fatalf("live scene changed during preview: %+v", got)
	}

	rec.ExitPreview()
	if got := rec.Scene(); got != liveBefore {
		t.Fatalf("live scene = %+v after discard, want untouched %+v", got, liveBefore)
	}
	if _, ok := rec.Staged(); ok {
		t.Fatal("staged scene must be discarded on exit")
	}
}

func TestGoLiveCommitsAtomically(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	rec.EnterPreview()
	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("big reveal"), ChromaKey: boolptr(true)}); err != nil {
		t.Fatalf("staged mutate: %v", err)
	}
	if err := rec.GoLive(); err != nil {
		t.Fatalf("go live: %v", err)
	}

	env := sender.last(t)
	if env.Type != protocol.TypeMutateScene {
		t.Fatalf("go live sent %s, want a scene mutation", env.Type)
	}
	ackOK(t, rec, requestID(t, env))

	if rec.Previewing() {
		t.Fatal("still previewing after committed go-live")
	}
	got := rec.Scene()
	if got.OverlayText != "big reveal" || !got.ChromaKey {
		t.Fatalf("live scene = %+v, want the staged contents", got)
	}
}

func TestGoLiveOutsidePreviewFails(t *testing.T) {
	rec, _ := newTestReconciler(t)
	connect(t, rec)
	if err := rec.GoLive(); !errors.Is(err, ErrNotPreviewing) {
		t.Fatalf("err = %v, want ErrNotPreviewing", err)
	}
}

func TestStagingAdvisoriesSent(t *testing.T) {
	rec, sender := newTestReconciler(t)
	connect(t, rec)

	rec.EnterPreview()
	rec.ExitPreview()

	var got []bool
	for _, env := range sender.sent {
		if env.Type == protocol.TypeStagingAdvisory {
			var adv protocol.StagingAdvisory
			if err := json.Unmarshal(env.Data, &adv); err != nil {
				t.Fatalf("unmarshal advisory: %v", err)
			}
			got = append(got, adv.Active)
		}
	}
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("advisories = %v, want [true false]", got)
	}
}

func TestPreviewReannouncedOnResync(t *testing.T) {
	rec, sender := newTestReconciler(t)

	// Preview opened while offline: the advisory cannot be sent yet.
	rec.EnterPreview()
	if len(sender.sent) != 0 {
		t.Fatalf("offline advisory leaked to the transport: %v", sender.sent)
	}

	connect(t, rec)

	var announced bool
	for _, env := range sender.sent {
		if env.Type != protocol.TypeStagingAdvisory {
			continue
		}
		var adv protocol.StagingAdvisory
		if err := json.Unmarshal(env.Data, &adv); err != nil {
			t.Fatalf("unmarshal advisory: %v", err)
		}
		announced = adv.Active
	}
	if !announced {
		t.Fatal("preview must be announced once the connection is back")
	}
}

func TestRemoteAdvisorySurfaced(t *testing.T) {
	rec, _ := newTestReconciler(t)

	var origin string
	var active bool
	rec.OnAdvisory = func(id string, a bool) { origin, active = id, a }

	rec.HandleEnvelope(envelope(t, protocol.TypeStagingAdvisory, protocol.StagingAdvisory{
		Active: true, OriginID: "conn-9",
	}))
	if origin != "conn-9" || !active {
		t.Fatalf("advisory = (%q, %v), want (conn-9, true)", origin, active)
	}
}

func TestFullStateOverridesMirror(t *testing.T) {
	rec, _ := newTestReconciler(t)
	connect(t, rec)

	st := state.Default()
	st.Timers.Segment.Remaining = 1
	st.Scene.OverlayText = "reset"
	rec.HandleEnvelope(envelope(t, protocol.TypeFullState, protocol.FullState{State: st}))

	if rec.Timers().Segment.Remaining != 1 || rec.Scene().OverlayText != "reset" {
		t.Fatalf("mirror = %+v / %+v, want full state applied", rec.Timers(), rec.Scene())
	}
}

func TestLocalTickAdvancesMirror(t *testing.T) {
	sender := &fakeSender{}
	clock := clockwork.NewFakeClock()
	rec := NewReconciler(sender, timer.DefaultPolicy(), clock)
	connect(t, rec)

	if err := rec.MutateTimer(timer.KeySegment, timer.Patch{Running: boolptr(true)}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	ackOK(t, rec, requestID(t, sender.last(t)))
	before := rec.Timers().Segment.Remaining

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.Timers().Segment.Remaining == before-1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("remaining = %d, want %d after one local tick", rec.Timers().Segment.Remaining, before-1)
}
