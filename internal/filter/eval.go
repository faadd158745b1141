package filter

import (
	"fmt"
	"regexp"
	"time"

	"cirrusflow/internal/target"
)

// Eval reports whether f matches t as observed at now. It never queries a
// host: all predicates here are pure functions of a Target's own state,
// unlike target.Condition.Holds which needs live host access.
func Eval(f *Filter, t *target.Target, now time.Time) (bool, error) {
	if f == nil {
		return true, nil
	}
	switch f.Kind {
	case KindAll:
		return true, nil
	case KindIsActivable:
		return target.ProjectionOf(t.State()) == target.ProjActivable, nil
	case KindIsInProgress:
		return target.ProjectionOf(t.State()) == target.ProjInProgress, nil
	case KindIsSuccessful:
		return target.ProjectionOf(t.State()) == target.ProjSuccessful, nil
	case KindIsFailed:
		return target.ProjectionOf(t.State()) == target.ProjFailed, nil
	case KindIsReallyRunning:
		return target.IsRunningFamily(t.State()), nil
	case KindIsKillable:
		return t.Killable(), nil
	case KindIsDependencyDead:
		return t.State() == target.DeadBecauseOfDependencies, nil
	case KindIsActivatedByUser:
		return t.ActivatedByUser, nil
	case KindKilledFromPassive:
		return t.State() == target.KilledFromPassive, nil
	case KindFailedFromRunning:
		return t.State() == target.FailedFromRunning, nil
	case KindFailedFromStarting:
		return t.State() == target.FailedFromStarting, nil
	case KindFailedFromCondition:
		return t.State() == target.FailedFromCondition, nil
	case KindCreatedInThePast:
		return !t.CreatedAt().Before(now.Add(-f.Span.Duration())), nil
	case KindAnd:
		for _, op := range f.Operands {
			ok, err := Eval(op, t, now)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindOr:
		for _, op := range f.Operands {
			ok, err := Eval(op, t, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		ok, err := Eval(f.Operand, t, now)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case KindName:
		return matchPred(f.NamePred, t.Name)
	case KindID:
		return matchPred(f.IDPred, t.ID)
	case KindTags:
		for _, p := range f.TagPreds {
			matched := false
			for _, tag := range t.SortedTags() {
				ok, err := matchPred(p, tag)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("filter: unevaluable kind %q", f.Kind)
	}
}

func matchPred(p *Pred, s string) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("filter: missing predicate")
	}
	switch p.Kind {
	case PredEquals:
		return p.Literal == s, nil
	case PredRegex, PredMatches:
		re, err := regexp.Compile(p.Literal)
		if err != nil {
			return false, fmt.Errorf("filter: invalid regex %q: %w", p.Literal, err)
		}
		return re.MatchString(s), nil
	default:
		return false, fmt.Errorf("filter: unrecognized predicate kind %q", p.Kind)
	}
}
