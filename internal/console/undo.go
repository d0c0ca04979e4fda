package console

// Undo replays the most recent pre-mutation snapshot as an authoritative
// mutation through the normal optimistic path, so it is subject to the same
// rollback-on-failure as any other edit. Undo with an empty ledger is a
// no-op.
func (r *Reconciler) Undo() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.ledger.PopUndo()
	if !ok {
		return nil
	}

	switch entry.Kind {
	case ActionTimer:
		r.ledger.PushRedo(UndoEntry{Kind: ActionTimer, TimerKey: entry.TimerKey, Timers: r.engine.Set})
		return r.applyTimerLocked(entry.TimerKey, entry.Timers.FullPatch(entry.TimerKey), false)
	case ActionScene:
		r.ledger.PushRedo(UndoEntry{Kind: ActionScene, Scene: r.scene.Clone()})
		return r.applySceneLocked(entry.Scene.FullPatch(), false, false)
	}
	return nil
}

// Redo is symmetric to Undo, replaying the most recently undone value.
func (r *Reconciler) Redo() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.ledger.PopRedo()
	if !ok {
		return nil
	}

	switch entry.Kind {
	case ActionTimer:
		r.ledger.PushUndoNoClear(UndoEntry{Kind: ActionTimer, TimerKey: entry.TimerKey, Timers: r.engine.Set})
		return r.applyTimerLocked(entry.TimerKey, entry.Timers.FullPatch(entry.TimerKey), false)
	case ActionScene:
		r.ledger.PushUndoNoClear(UndoEntry{Kind: ActionScene, Scene: r.scene.Clone()})
		return r.applySceneLocked(entry.Scene.FullPatch(), false, false)
	}
	return nil
}

// LedgerDepths reports undo/redo availability for the UI.
func (r *Reconciler) LedgerDepths() (undo, redo int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Depths()
}
