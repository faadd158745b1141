package engine

import (
	"context"
	"time"

	"cirrusflow/internal/store"
	"cirrusflow/internal/target"
)

// activateOne drives id from Passive to Active. byUser marks an explicit
// API/CLI call as opposed to a parent's success_triggers firing.
//
// Before committing the transition, activateOne checks Same_active_condition
// deduplication: if another non-terminal target shares this one's
// Equivalence kind and an equal Condition, this target is redirected to
// point at it instead of doing its own work, and never transitions past
// Active itself — PropagateCompletions resolves its outcome through the
// pointer once the pointed-to target finishes.
func (e *Engine) activateOne(ctx context.Context, id string, byUser bool) error {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	expectedLen := len(t.History)

	if t.Equivalence == target.EquivalenceSameActiveCondition {
		if other, ok := e.store.FindEquivalent(t); ok {
			t.PointerTo = other
		}
	}

	if err := t.Activate(time.Now(), byUser); err != nil {
		return err
	}

	if t.Condition != nil && t.PointerTo == "" {
		h := e.hostOf(t)
		ok, err := t.Condition.Holds(ctx, asConditionRunner(h))
		if err == nil && ok {
			if mErr := t.MarkAlreadySuccessful(time.Now()); mErr == nil {
				return e.store.CompareAndSwap(ctx, t, expectedLen)
			}
		}
	}

	return e.store.CompareAndSwap(ctx, t, expectedLen)
}

// PropagateCompletions walks every finished target and, for each newly
// Successful one, activates its success_triggers; for each newly failed
// one, marks every target listing it in make_fail_if as Failed. It also
// resolves pointer targets: once a pointed-to target reaches a terminal
// state, every target pointing at it adopts the same terminal state.
//
// make_fail_if is the only failure-driven propagation: targets carry no
// fallback triggers, so nothing here competes with a make_fail_if hit.
func (e *Engine) PropagateCompletions(ctx context.Context) error {
	finished := e.store.FinishedIDs()
	byID := make(map[string]*target.Target, len(finished))
	for _, id := range finished {
		t, err := e.store.Get(ctx, id)
		if err != nil {
			continue
		}
		byID[id] = t
	}

	for _, t := range byID {
		if t.State() == target.Successful {
			if err := e.fireSuccessTriggers(ctx, t); err != nil {
				return err
			}
		}
		if target.IsFailedFamily(t.State()) {
			if err := e.fireMakeFailIf(ctx, t); err != nil {
				return err
			}
		}
	}
	return e.resolvePointers(ctx)
}

func (e *Engine) fireSuccessTriggers(ctx context.Context, t *target.Target) error {
	for _, childID := range t.SuccessTriggers {
		child, err := e.store.Get(ctx, childID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return err
		}
		if child.State() != target.Passive {
			continue
		}
		if !e.dependenciesSatisfied(ctx, child) {
			continue
		}
		if err := e.activateOne(ctx, childID, false); err != nil {
			return err
		}
	}
	return nil
}

// dependenciesSatisfied reports whether every id in child.DependsOn has
// reached Successful, so a fan-in child only activates once all of its
// parents — not just the one that just fired — have succeeded.
func (e *Engine) dependenciesSatisfied(ctx context.Context, child *target.Target) bool {
	for _, depID := range child.DependsOn {
		dep, err := e.store.Get(ctx, depID)
		if err != nil || dep.State() != target.Successful {
			return false
		}
	}
	return true
}

func (e *Engine) fireMakeFailIf(ctx context.Context, t *target.Target) error {
	finished := e.store.ActiveIDs()
	finished = append(finished, e.store.PassiveIDs()...)
	for _, id := range finished {
		dependent, err := e.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !containsID(dependent.MakeFailIf, t.ID) {
			continue
		}
		if target.IsTerminal(dependent.State()) {
			continue
		}
		expectedLen := len(dependent.History)
		if err := dependent.MakeFail(time.Now(), t.ID); err != nil {
			continue
		}
		if err := e.store.CompareAndSwap(ctx, dependent, expectedLen); err != nil {
			return err
		}
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}

// resolvePointers finds every non-terminal target with a PointerTo set
// whose pointed-to target has reached a terminal state, and copies that
// terminal outcome onto the pointing target.
func (e *Engine) resolvePointers(ctx context.Context) error {
	for _, id := range append(e.store.ActiveIDs(), e.store.PassiveIDs()...) {
		t, err := e.store.Get(ctx, id)
		if err != nil || t.PointerTo == "" {
			continue
		}
		resolvedID := e.store.ResolvePointer(t.ID)
		if resolvedID == t.ID {
			continue
		}
		target2, err := e.store.Get(ctx, resolvedID)
		if err != nil || !target.IsTerminal(target2.State()) {
			continue
		}
		expectedLen := len(t.History)
		var terr error
		switch target2.State() {
		case target.Successful:
			terr = t.Transition(time.Now(), target.Successful, "resolved via equivalence pointer to "+resolvedID)
		default:
			terr = t.Transition(time.Now(), target.Failed, "equivalence pointer target "+resolvedID+" failed")
		}
		if terr != nil {
			continue
		}
		if err := e.store.CompareAndSwap(ctx, t, expectedLen); err != nil {
			return err
		}
	}
	return nil
}
