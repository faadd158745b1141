package target

import (
	"context"
	"testing"
	"time"
)

func TestActivateThenTerminalRejectsFurtherTransitions(t *testing.T) {
	tg := New("t1", "a", time.Now())
	if err := tg.Activate(time.Now(), true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := tg.BeginStart(time.Now()); err != nil {
		t.Fatalf("begin start: %v", err)
	}
	if err := tg.StartFailedFatally(time.Now(), "boom"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if tg.State() != FailedFromStarting {
		t.Fatalf("expected FailedFromStarting, got %s", tg.State())
	}
	if !IsTerminal(tg.State()) {
		t.Fatalf("expected terminal state")
	}
	if err := tg.StartSucceeded(time.Now()); err == nil {
		t.Fatalf("expected transition out of terminal state to fail")
	}
}

func TestHistoryIsMonotonicPrefix(t *testing.T) {
	tg := New("t1", "a", time.Now())
	snapshot1 := append([]HistoryEntry(nil), tg.History...)

	_ = tg.Activate(time.Now(), true)
	snapshot2 := append([]HistoryEntry(nil), tg.History...)

	if len(snapshot2) < len(snapshot1) {
		t.Fatalf("history shrank")
	}
	for i := range snapshot1 {
		if snapshot1[i] != snapshot2[i] {
			t.Fatalf("history entry %d changed: %+v != %+v", i, snapshot1[i], snapshot2[i])
		}
	}
}

func TestSelfLoopsDoNotGrowHistory(t *testing.T) {
	tg := New("t1", "a", time.Now())
	_ = tg.Activate(time.Now(), true)
	_ = tg.BeginStart(time.Now())
	before := len(tg.History)
	if err := tg.RetryStart(time.Now()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(tg.History) != before {
		t.Fatalf("expected self-loop to not grow history, went from %d to %d", before, len(tg.History))
	}
}

func TestKillIsIdempotentAtStateMachineLevel(t *testing.T) {
	tg := New("t1", "a", time.Now())
	_ = tg.Activate(time.Now(), true)
	if err := tg.Kill(time.Now()); err != nil {
		t.Fatalf("first kill: %v", err)
	}
	if tg.State() != Killed {
		t.Fatalf("expected Killed, got %s", tg.State())
	}
	if err := tg.Kill(time.Now()); err == nil {
		t.Fatalf("expected second kill on terminal target to be rejected by the state machine")
	}
	// The engine layer is responsible for treating ErrTerminal as a no-op
	// here (kill idempotence), not retrying the backend call.
}

func TestNoConditionAlwaysHolds(t *testing.T) {
	ok, err := (*Condition)(nil).Holds(context.Background(), fakeRunner{})
	if err != nil || !ok {
		t.Fatalf("expected nil condition to hold, got ok=%v err=%v", ok, err)
	}
}

func TestConditionAndOrNot(t *testing.T) {
	r := fakeRunner{exitByCmd: map[string]int{"test -e '/tmp/x'": 0, "false": 1}}
	c := And(VolumeExists("/tmp/x"), Not(CommandReturns("false", 0)))
	ok, err := c.Holds(context.Background(), r)
	if err != nil {
		t.Fatalf("holds: %v", err)
	}
	if !ok {
		t.Fatalf("expected condition to hold")
	}
}

func TestConditionEqualityForDeduplication(t *testing.T) {
	a := VolumeExists("/tmp/x")
	b := VolumeExists("/tmp/x")
	c := VolumeExists("/tmp/y")
	if !a.Equal(b) {
		t.Fatalf("expected equal conditions to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected different paths to compare unequal")
	}
}

type fakeRunner struct {
	exitByCmd map[string]int
}

func (f fakeRunner) RunCommand(_ context.Context, cmd string) (CommandResult, error) {
	return CommandResult{Exit: f.exitByCmd[cmd]}, nil
}
