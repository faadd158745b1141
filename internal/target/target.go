// Package target holds the immutable-identity, mutable-history Target model
// and the state machine that drives it.
package target

import (
	"sort"
	"time"
)

// Equivalence controls DAG-level deduplication.
type Equivalence string

const (
	EquivalenceNone               Equivalence = "none"
	EquivalenceSameActiveCondition Equivalence = "same_active_condition"
)

// BuildProcessKind tags whether a target does real work or is a no-op node
// used purely for DAG structure (e.g. a fan-in/fan-out join).
type BuildProcessKind string

const (
	NoOperation BuildProcessKind = "no_operation"
	LongRunning BuildProcessKind = "long_running"
)

// BuildProcess is either a no-op or a reference to a registered backend plus
// that backend's opaque, versioned run_parameters blob.
type BuildProcess struct {
	Kind          BuildProcessKind
	Backend       string
	RunParameters []byte
}

// HistoryEntry is one append-only (timestamp, state) record.
type HistoryEntry struct {
	Timestamp time.Time
	State     State
	Reason    string // populated for failure-family entries
}

// Target is the unit of work. Identity (ID) is immutable; History is
// append-only and grows only through the state machine in statemachine.go;
// the other fields are plain mutable attributes.
type Target struct {
	ID   string
	Name string
	Tags map[string]struct{}

	Metadata map[string]any

	DependsOn       []string
	MakeFailIf      []string
	SuccessTriggers []string

	Condition    *Condition
	Equivalence  Equivalence
	BuildProcess BuildProcess

	History []HistoryEntry

	// ActivatedByUser records whether the Active transition for this target
	// was triggered by an explicit user activate() call as opposed to a
	// parent's success_triggers firing. History alone (a bare sequence of
	// states) cannot distinguish these, so the flag is stored alongside it.
	ActivatedByUser bool

	// PointerTo holds another target's id when Equivalence ==
	// Same_active_condition caused this target to be redirected to share
	// that target's outcome. Equivalence pointers are ids, resolved lazily
	// on read.
	PointerTo string
}

// New creates a target in the Passive state with a single history entry.
func New(id, name string, at time.Time) *Target {
	return &Target{
		ID:       id,
		Name:     name,
		Tags:     make(map[string]struct{}),
		Metadata: make(map[string]any),
		History:  []HistoryEntry{{Timestamp: at, State: Passive}},
	}
}

// State returns the current (latest) state. A target always has at least
// one history entry (its creation into Passive), so this never needs a
// fallback.
func (t *Target) State() State {
	return t.History[len(t.History)-1].State
}

// CreatedAt returns the timestamp of the first history entry.
func (t *Target) CreatedAt() time.Time {
	return t.History[0].Timestamp
}

// Killable reports whether a kill request may still affect this target
// ("killable ... flags derivable from history" — any
// non-terminal target is killable per the "(any non-terminal) --
// kill_request -->" transition).
func (t *Target) Killable() bool {
	return !IsTerminal(t.State())
}

// SortedTags returns tags in deterministic order, for filter evaluation and
// printing.
func (t *Target) SortedTags() []string {
	out := make([]string, 0, len(t.Tags))
	for tag := range t.Tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// AddTag mutates the tag set in place. Tags are not part of the
// append-only history; they are ordinary mutable attributes.
func (t *Target) AddTag(tag string) { t.Tags[tag] = struct{}{} }

// HasTag reports whether tag is present.
func (t *Target) HasTag(tag string) bool {
	_, ok := t.Tags[tag]
	return ok
}

// append records a new state, enforcing that no transition leaves a
// terminal state and that history only ever grows.
func (t *Target) append(at time.Time, s State, reason string) error {
	if IsTerminal(t.State()) {
		return &ErrTerminal{ID: t.ID, State: t.State()}
	}
	t.History = append(t.History, HistoryEntry{Timestamp: at, State: s, Reason: reason})
	return nil
}
