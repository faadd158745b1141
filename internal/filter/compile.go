package filter

import "time"

// TimeConstraint is the lower bound on a target's creation time that the
// server can apply before ever looking at an individual target's fields —
// useful for an index-backed "skip everything older than X" prefilter. A
// nil Since means no constraint.
type TimeConstraint struct {
	Since *time.Time
}

// Compiled is the result of splitting a client-side Filter into a cheap
// time constraint plus a residual predicate evaluated per-candidate.
type Compiled struct {
	TimeConstraint TimeConstraint
	Predicate      *Filter
}

// Compile splits f, as observed at now, into (time_constraint, predicate).
// created-in-the-past folds into a Since bound; and takes the latest
// (most restrictive) of its operands' bounds, or takes the earliest
// (least restrictive) of its operands' bounds; not pushes through
// conjunctions/disjunctions via De Morgan. A bounded not nested inside a
// free-form conjunction has no well-defined collapse, so it conservatively
// contributes no time constraint — the predicate side still evaluates it
// exactly, this only affects the prefilter's precision.
func Compile(f *Filter, now time.Time) Compiled {
	since, residual := split(f, now, false)
	return Compiled{TimeConstraint: TimeConstraint{Since: since}, Predicate: residual}
}

// split returns (bound, residual) for f, where negate indicates f sits
// under an odd number of enclosing `not`s (so a created-in-the-past leaf
// here is actually an upper, not lower, bound on age — which has no
// useful Since form, so it is conservatively dropped from the time
// constraint and left entirely to the residual predicate).
func split(f *Filter, now time.Time, negate bool) (*time.Time, *Filter) {
	if f == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindCreatedInThePast:
		if negate {
			return nil, f
		}
		t := now.Add(-f.Span.Duration())
		return &t, nil
	case KindAnd:
		if negate {
			return splitFreeForm(f, now)
		}
		var latest *time.Time
		for _, op := range f.Operands {
			since, _ := split(op, now, negate)
			latest = laterBound(latest, since)
		}
		return latest, f
	case KindOr:
		if negate {
			return splitFreeForm(f, now)
		}
		var earliest *time.Time
		hasNil := false
		for _, op := range f.Operands {
			since, _ := split(op, now, negate)
			if since == nil {
				hasNil = true
				continue
			}
			earliest = earlierBound(earliest, since)
		}
		if hasNil {
			return nil, f
		}
		return earliest, f
	case KindNot:
		since, _ := split(f.Operand, now, !negate)
		return since, f
	default:
		return nil, f
	}
}

// splitFreeForm handles a conjunction/disjunction under an odd number of
// nots: De Morgan turns and<->or, but what results is "free-form" in the
// sense that individual bounded-not leaves inside it cannot be folded into
// a single Since bound, matching the open question's conservative choice.
func splitFreeForm(f *Filter, now time.Time) (*time.Time, *Filter) {
	return nil, f
}

func laterBound(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}

func earlierBound(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Before(*a) {
		return b
	}
	return a
}
