// Package filter implements the s-expression query language used to select
// targets: a small set of status/name/id/tag/age predicates combined with
// and/or/not, plus a compile-time alias table.
package filter

import "time"

// Kind tags the variant of a Filter AST node.
type Kind string

const (
	KindAll               Kind = "all"
	KindIsActivable       Kind = "is-activable"
	KindIsInProgress      Kind = "is-in-progress"
	KindIsSuccessful      Kind = "is-successful"
	KindIsFailed          Kind = "is-failed"
	KindIsReallyRunning   Kind = "is-really-running"
	KindIsKillable        Kind = "is-killable"
	KindIsDependencyDead  Kind = "is-dependency-dead"
	KindIsActivatedByUser Kind = "is-activated-by-user"
	KindKilledFromPassive Kind = "killed-from-passive"
	KindFailedFromRunning Kind = "failed-from-running"
	KindFailedFromStarting Kind = "failed-from-starting"
	KindFailedFromCondition Kind = "failed-from-condition"
	KindCreatedInThePast  Kind = "created-in-the-past"
	KindAnd               Kind = "and"
	KindOr                Kind = "or"
	KindNot               Kind = "not"
	KindName              Kind = "name"
	KindID                Kind = "id"
	KindTags              Kind = "tags"
)

// SpanUnit is the unit a created-in-the-past span is expressed in.
type SpanUnit string

const (
	Hours SpanUnit = "hours"
	Days  SpanUnit = "days"
	Weeks SpanUnit = "weeks"
)

// Span is a (unit, magnitude) duration, e.g. (hours 2.5).
type Span struct {
	Unit SpanUnit
	N    float64
}

// Duration converts the span to a time.Duration.
func (s Span) Duration() time.Duration {
	var unit time.Duration
	switch s.Unit {
	case Hours:
		unit = time.Hour
	case Days:
		unit = 24 * time.Hour
	case Weeks:
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(s.N * float64(unit))
}

// PredKind tags the variant of a string predicate used by name/id/tags.
type PredKind string

const (
	PredEquals  PredKind = "equals"
	PredRegex   PredKind = "re"
	PredMatches PredKind = "matches" // synonym for re, per the grammar
)

// Pred is a predicate over a single string: a bare literal is shorthand for
// PredEquals.
type Pred struct {
	Kind    PredKind
	Literal string
}

// Filter is the parsed AST. Which fields are meaningful depends on Kind.
type Filter struct {
	Kind Kind

	Span Span // KindCreatedInThePast

	Operands []*Filter // KindAnd, KindOr
	Operand  *Filter   // KindNot

	NamePred *Pred  // KindName
	IDPred   *Pred  // KindID
	TagPreds []*Pred // KindTags
}

func All() *Filter { return &Filter{Kind: KindAll} }

func Status(k Kind) *Filter { return &Filter{Kind: k} }

func CreatedInThePast(span Span) *Filter {
	return &Filter{Kind: KindCreatedInThePast, Span: span}
}

func And(operands ...*Filter) *Filter { return &Filter{Kind: KindAnd, Operands: operands} }
func Or(operands ...*Filter) *Filter  { return &Filter{Kind: KindOr, Operands: operands} }
func Not(operand *Filter) *Filter     { return &Filter{Kind: KindNot, Operand: operand} }

func Name(p *Pred) *Filter { return &Filter{Kind: KindName, NamePred: p} }
func ID(p *Pred) *Filter   { return &Filter{Kind: KindID, IDPred: p} }
func Tags(preds ...*Pred) *Filter { return &Filter{Kind: KindTags, TagPreds: preds} }
