package console

import (
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

// maxLedgerEntries bounds each stack; the oldest entries fall off first.
const maxLedgerEntries = 50

// UndoEntry snapshots the portion of the mirror a mutation is about to
// change: the full timer set for timer mutations (keyed so replay knows
// which timer to re-issue) or the scene for scene mutations.
type UndoEntry struct {
	Kind     ActionKind
	TimerKey string
	Timers   timer.Set
	Scene    scene.Scene
}

// Ledger is the undo/redo state machine: two bounded stacks of pre-mutation
// snapshots. User-initiated mutations push onto undo and clear redo;
// tick-driven updates and undo/redo replays never touch it.
type Ledger struct {
	undo []UndoEntry
	redo []UndoEntry
}

// RecordTimer pushes the pre-mutation timer set and clears redo.
func (l *Ledger) RecordTimer(key string, before timer.Set) {
	l.pushUndo(UndoEntry{Kind: ActionTimer, TimerKey: key, Timers: before})
	l.redo = nil
}

// RecordScene pushes the pre-mutation scene and clears redo.
func (l *Ledger) RecordScene(before scene.Scene) {
	l.pushUndo(UndoEntry{Kind: ActionScene, Scene: before.Clone()})
	l.redo = nil
}

func (l *Ledger) pushUndo(e UndoEntry) {
	l.undo = append(l.undo, e)
	if len(l.undo) > maxLedgerEntries {
		l.undo = l.undo[1:]
	}
}

// PopUndo removes and returns the most recent undo entry.
func (l *Ledger) PopUndo() (UndoEntry, bool) {
	if len(l.undo) == 0 {
		return UndoEntry{}, false
	}
	e := l.undo[len(l.undo)-1]
	l.undo = l.undo[:len(l.undo)-1]
	return e, true
}

// PushRedo records the current value before an undo replays an older one.
func (l *Ledger) PushRedo(e UndoEntry) {
	l.redo = append(l.redo, e)
	if len(l.redo) > maxLedgerEntries {
		l.redo = l.redo[1:]
	}
}

// PopRedo removes and returns the most recent redo entry.
func (l *Ledger) PopRedo() (UndoEntry, bool) {
	if len(l.redo) == 0 {
		return UndoEntry{}, false
	}
	e := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	return e, true
}

// PushUndoNoClear records the current value before a redo replays a newer
// one, without clearing the redo stack.
func (l *Ledger) PushUndoNoClear(e UndoEntry) {
	l.pushUndo(e)
}

// Depths reports the stack sizes, for UI affordances like greying out
// buttons.
func (l *Ledger) Depths() (undo, redo int) {
	return len(l.undo), len(l.redo)
}
