package engine

import "context"

// Tick runs one full scheduling cycle: Step advances in-flight work,
// resolvePointers propagates terminal outcomes across Same_active_condition
// redirects, and PropagateCompletions fires success_triggers/make_fail_if
// for anything that just finished. Callers (the CLI, a future HTTP driver)
// should call Tick rather than Step directly so a target's downstream
// effects never lag behind the tick that finished it.
func (e *Engine) Tick(ctx context.Context) error {
	if err := e.Step(ctx); err != nil {
		return err
	}
	if err := e.resolvePointers(ctx); err != nil {
		return err
	}
	return e.PropagateCompletions(ctx)
}
