package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stagehand-live/stagehand/internal/hub"
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/state"
	"github.com/stagehand-live/stagehand/internal/timer"
)

func startTestHub(t *testing.T) (*hub.Hub, *httptest.Server, string) {
	t.Helper()

	h := hub.New(hub.DefaultConfig(), state.Default(), clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	mux := http.NewServeMux()
	hub.NewWSHandler(h.Connections()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func connectionCount(h *hub.Hub) int {
	n, _ := h.Connections().Stats()["total_connections"].(int)
	return n
}

func TestWSClientConnectsAndDrainsQueue(t *testing.T) {
	_, _, url := startTestHub(t)

	client := NewWSClient(url)
	rec := NewReconciler(client, timer.DefaultPolicy(), clockwork.NewRealClock())
	client.Attach(rec)

	// Issued before any connection exists, so it queues.
	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("warmup")}); err != nil {
		t.Fatalf("offline mutate: %v", err)
	}
	if rec.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, want 1", rec.QueueDepth())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, rec.Connected, "client never synced with the hub")
	waitFor(t, func() bool { return rec.QueueDepth() == 0 }, "offline queue never drained")
	waitFor(t, func() bool { return rec.Scene().OverlayText == "warmup" },
		"queued mutation did not survive the resync")
}

func TestWSClientReconnectsAfterDrop(t *testing.T) {
	h, srv, url := startTestHub(t)

	client := NewWSClient(url)
	rec := NewReconciler(client, timer.DefaultPolicy(), clockwork.NewRealClock())
	client.Attach(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	waitFor(t, rec.Connected, "client never synced with the hub")
	waitFor(t, func() bool { return connectionCount(h) == 1 }, "hub never saw the connection")

	srv.CloseClientConnections()
	waitFor(t, func() bool { return connectionCount(h) == 0 }, "hub never dropped the connection")

	// The redial loop brings a fresh connection up and the hello resyncs.
	waitFor(t, func() bool { return connectionCount(h) == 1 }, "client never redialed")
	waitFor(t, rec.Connected, "client never resynced after the drop")

	if err := rec.MutateScene(scene.Patch{OverlayText: strptr("after")}); err != nil {
		t.Fatalf("mutate after reconnect: %v", err)
	}
	waitFor(t, func() bool { return rec.Scene().OverlayText == "after" },
		"mutation after reconnect did not stick")
	waitFor(t, func() bool { return rec.QueueDepth() == 0 }, "mutation queued despite live connection")
}
