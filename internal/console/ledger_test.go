package console

import (
	"fmt"
	"testing"

	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

func TestLedgerDropsOldestPastCap(t *testing.T) {
	var l Ledger
	for i := 0; i < maxLedgerEntries+5; i++ {
		s := scene.Default()
		s.OverlayText = fmt.Sprintf("edit-%d", i)
		l.RecordScene(s)
	}

	undo, _ := l.Depths()
	if undo != maxLedgerEntries {
		t.Fatalf("undo depth = %d, want cap %d", undo, maxLedgerEntries)
	}

	// Drain the stack: the last entry out is the oldest survivor, which is
	// the sixth one recorded.
	var last UndoEntry
	for {
		e, ok := l.PopUndo()
		if !ok {
			break
		}
		last = e
	}
	if last.Scene.OverlayText != "edit-5" {
		t.Fatalf("oldest survivor = %q, want edit-5", last.Scene.OverlayText)
	}
}

func TestRedoStackBounded(t *testing.T) {
	var l Ledger
	for i := 0; i < maxLedgerEntries+3; i++ {
		l.PushRedo(UndoEntry{Kind: ActionTimer, TimerKey: timer.KeySegment, Timers: timer.DefaultSet()})
	}
	if _, redo := l.Depths(); redo != maxLedgerEntries {
		t.Fatalf("redo depth = %d, want cap %d", redo, maxLedgerEntries)
	}
}

func TestQueueUnboundedPastWarnThreshold(t *testing.T) {
	var q OfflineQueue
	for i := 0; i < warnQueueDepth+1; i++ {
		q.Append(PendingAction{Kind: ActionTimer, TimerKey: fmt.Sprintf("k%d", i)})
	}

	// The threshold only warns; nothing is shed and order is preserved.
	if q.Len() != warnQueueDepth+1 {
		t.Fatalf("len = %d, want %d", q.Len(), warnQueueDepth+1)
	}
	head, ok := q.Peek()
	if !ok || head.TimerKey != "k0" {
		t.Fatalf("head = %+v, want the first entry", head)
	}
	q.Drop()
	head, _ = q.Peek()
	if head.TimerKey != "k1" {
		t.Fatalf("head after drop = %+v, want the second entry", head)
	}
}
