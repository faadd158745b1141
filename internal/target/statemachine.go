package target

import "time"

// allowed is the transition table. Self-loops are listed explicitly where
// retries are expected (Tried_to_start retry, Still_building repeated
// polling) so Transition can validate them without treating them as
// violations; see Transition for why a self-loop does not grow History.
var allowed = map[State]map[State]bool{
	Passive: {
		Active:            true,
		KilledFromPassive: true,
	},
	Active: {
		DeadBecauseOfDependencies: true,
		Successful:                true, // condition already holds (ALREADY_DONE)
		TriedToStart:              true,
		Killed:                    true,
		Failed:                    true, // make_fail_if can fire before start
	},
	TriedToStart: {
		TriedToStart:       true, // recoverable retry, with backoff
		StartedRunning:     true,
		FailedFromStarting: true,
		Killed:             true,
		Failed:             true,
	},
	StartedRunning: {
		StillBuilding: true,
		Killed:        true,
		Failed:        true,
	},
	StillBuilding: {
		StillBuilding:         true, // still polling, no change
		StillVerifyingSuccess: true,
		FailedFromRunning:     true,
		Killed:                true,
		Failed:                true,
	},
	StillVerifyingSuccess: {
		Successful:          true,
		FailedFromCondition: true,
		Killed:              true,
		Failed:              true,
	},
}

// Transition validates and, if the target state actually changes, appends a
// history entry. Self-loops (to == current state) are validated against the
// table but never grow History, since an unchanged state is not new
// information — History only needs to be a prefix across
// ticks, not that every poll produces an entry.
func (t *Target) Transition(at time.Time, to State, reason string) error {
	from := t.State()
	if IsTerminal(from) {
		return &ErrTerminal{ID: t.ID, State: from}
	}
	if !allowed[from][to] {
		return &ErrInvalidTransition{ID: t.ID, From: from, To: to}
	}
	if to == from {
		return nil
	}
	return t.append(at, to, reason)
}

// Activate drives Passive -> Active. byUser distinguishes an explicit API
// activation from a parent's success_triggers firing (see
// Target.ActivatedByUser).
func (t *Target) Activate(at time.Time, byUser bool) error {
	if err := t.Transition(at, Active, ""); err != nil {
		return err
	}
	if byUser {
		t.ActivatedByUser = true
	}
	return nil
}

// KillFromPassive drives Passive -> Killed_from_passive.
func (t *Target) KillFromPassive(at time.Time) error {
	return t.Transition(at, KilledFromPassive, "")
}

// MarkDependencyDead drives Active -> Dead_because_of_dependencies
// (the build_process must never have started).
func (t *Target) MarkDependencyDead(at time.Time, blockingDep string) error {
	return t.Transition(at, DeadBecauseOfDependencies, "dependency "+blockingDep+" did not succeed")
}

// MarkAlreadySuccessful drives Active -> Successful directly, used when the
// condition already holds at activation time (the ALREADY_DONE shortcut).
func (t *Target) MarkAlreadySuccessful(at time.Time) error {
	return t.Transition(at, Successful, "condition already satisfied")
}

// BeginStart drives Active -> Tried_to_start, i.e. "schedule backend.start".
func (t *Target) BeginStart(at time.Time) error {
	return t.Transition(at, TriedToStart, "")
}

// RetryStart is the Tried_to_start -> Tried_to_start self-loop for a
// recoverable start failure; it never grows History (see Transition). The
// retry attempt counter is kept by the engine in memory, not in
// run_parameters, so it does not survive a restart of the engine process.
func (t *Target) RetryStart(at time.Time) error {
	return t.Transition(at, TriedToStart, "")
}

// StartSucceeded drives Tried_to_start -> Started_running.
func (t *Target) StartSucceeded(at time.Time) error {
	return t.Transition(at, StartedRunning, "")
}

// StartFailedFatally drives Tried_to_start -> Failed_from_starting.
func (t *Target) StartFailedFatally(at time.Time, reason string) error {
	return t.Transition(at, FailedFromStarting, reason)
}

// PollStillRunning drives Started_running -> Still_building, or is the
// Still_building -> Still_building self-loop on subsequent polls.
func (t *Target) PollStillRunning(at time.Time) error {
	return t.Transition(at, StillBuilding, "")
}

// PollCompleted drives Still_building -> Still_verifying_success.
func (t *Target) PollCompleted(at time.Time) error {
	return t.Transition(at, StillVerifyingSuccess, "")
}

// PollFailed drives Still_building -> Failed_from_running.
func (t *Target) PollFailed(at time.Time, reason string) error {
	return t.Transition(at, FailedFromRunning, reason)
}

// VerifySucceeded drives Still_verifying_success -> Successful.
func (t *Target) VerifySucceeded(at time.Time) error {
	return t.Transition(at, Successful, "")
}

// VerifyFailed drives Still_verifying_success -> Failed_from_condition.
func (t *Target) VerifyFailed(at time.Time, reason string) error {
	return t.Transition(at, FailedFromCondition, reason)
}

// Kill drives any non-terminal state to Killed. The caller is responsible
// for having already fired backend.kill on the target's current
// run_parameters ("A kill interrupts an in-flight start or
// update by firing kill on the currently-known run_parameters").
func (t *Target) Kill(at time.Time) error {
	return t.Transition(at, Killed, "killed by request")
}

// MakeFail drives any non-terminal state to Failed because a target listed
// in make_fail_if has failed.
func (t *Target) MakeFail(at time.Time, triggeringID string) error {
	return t.Transition(at, Failed, "make-fail-if triggered by "+triggeringID)
}
