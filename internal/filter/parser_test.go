package filter

import (
	"testing"
	"time"

	"cirrusflow/internal/target"
)

func TestParseBareAndParenthesizedFormsAgree(t *testing.T) {
	bare, err := Parse("is-failed", nil)
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	paren, err := Parse("(is-failed)", nil)
	if err != nil {
		t.Fatalf("parse parenthesized: %v", err)
	}
	if bare.Kind != paren.Kind {
		t.Fatalf("bare and parenthesized forms diverged: %v vs %v", bare.Kind, paren.Kind)
	}
}

func TestParseAndOrNot(t *testing.T) {
	f, err := Parse(`(and (is-failed) (not (is-successful)))`, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Kind != KindAnd || len(f.Operands) != 2 {
		t.Fatalf("unexpected tree: %+v", f)
	}
	if f.Operands[1].Kind != KindNot {
		t.Fatalf("expected second operand to be not, got %v", f.Operands[1].Kind)
	}
}

func TestParseCreatedInThePast(t *testing.T) {
	f, err := Parse(`(created-in-the-past (days 2.5))`, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Kind != KindCreatedInThePast || f.Span.Unit != Days || f.Span.N != 2.5 {
		t.Fatalf("unexpected span: %+v", f.Span)
	}
}

func TestParseNamePredicateForms(t *testing.T) {
	eq, err := Parse(`(name foo)`, nil)
	if err != nil {
		t.Fatalf("parse bare literal: %v", err)
	}
	if eq.NamePred.Kind != PredEquals || eq.NamePred.Literal != "foo" {
		t.Fatalf("unexpected pred: %+v", eq.NamePred)
	}

	re, err := Parse(`(name (re "^foo.*"))`, nil)
	if err != nil {
		t.Fatalf("parse regex form: %v", err)
	}
	if re.NamePred.Kind != PredRegex || re.NamePred.Literal != "^foo.*" {
		t.Fatalf("unexpected pred: %+v", re.NamePred)
	}
}

func TestParseUnrecognizedAtomFails(t *testing.T) {
	if _, err := Parse("bogus-atom", nil); err == nil {
		t.Fatalf("expected a syntax error")
	}
}

func TestAliasExpansion(t *testing.T) {
	table := DefaultAliases()
	f, err := Parse("stale", table)
	if err != nil {
		t.Fatalf("parse alias: %v", err)
	}
	if f.Kind != KindNot || f.Operand == nil || f.Operand.Kind != KindCreatedInThePast {
		t.Fatalf("expected stale to expand to not created-in-the-past, got %+v", f)
	}
}

func TestEvalCreatedInThePast(t *testing.T) {
	now := time.Now()
	tg := target.New("t1", "demo", now.Add(-48*time.Hour))

	f, err := Parse(`(created-in-the-past (days 1))`, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := Eval(f, tg, now)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if ok {
		t.Fatalf("expected a target created 48h ago not to match created-in-the-past 1 day")
	}
}

func TestCompileSplitsTimeConstraintFromAndFilter(t *testing.T) {
	now := time.Now()
	f, err := Parse(`(and (created-in-the-past (days 1)) (is-failed))`, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	compiled := Compile(f, now)
	if compiled.TimeConstraint.Since == nil {
		t.Fatalf("expected a time constraint to be extracted")
	}
	want := now.Add(-24 * time.Hour)
	if compiled.TimeConstraint.Since.Sub(want) > time.Second || want.Sub(*compiled.TimeConstraint.Since) > time.Second {
		t.Fatalf("unexpected since bound: %v (want ~%v)", compiled.TimeConstraint.Since, want)
	}
}

func TestCompileConservativelyDropsBoundedNotUnderFreeForm(t *testing.T) {
	now := time.Now()
	f, err := Parse(`(not (and (created-in-the-past (days 1)) (is-failed)))`, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	compiled := Compile(f, now)
	if compiled.TimeConstraint.Since != nil {
		t.Fatalf("expected no time constraint for a bounded not under free-form and, got %v", compiled.TimeConstraint.Since)
	}
}
