package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// tokenKind tags one lexical token.
type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokAtom
	tokString
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex splits src into tokens. Atoms are runs of non-whitespace,
// non-parenthesis characters; a double-quoted run is a single string token
// with its quotes stripped.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == '"':
			j := i + 1
			for j < n && src[j] != '"' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("filter: unterminated string literal starting at offset %d", i)
			}
			toks = append(toks, token{kind: tokString, text: src[i+1 : j]})
			i = j + 1
		default:
			j := i
			for j < n && !strings.ContainsRune(" \t\n\r()", rune(src[j])) {
				j++
			}
			toks = append(toks, token{kind: tokAtom, text: src[i:j]})
			i = j
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

// parser walks a token stream producing a Filter AST. Outermost parentheses
// may be omitted, so Parse wraps a bare leading atom/list transparently.
type parser struct {
	toks []token
	pos  int
}

// Parse parses src into a Filter, expanding any aliases registered in
// table. A syntax error is returned without having mutated any external
// state (the parser only builds a tree and never touches table).
func Parse(src string, table *AliasTable) (*Filter, error) {
	toks, err := lex(strings.TrimSpace(src))
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	f, err := p.parseFilterOrBareForm(table)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("filter: unexpected trailing input at token %d", p.pos)
	}
	return f, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// parseFilterOrBareForm handles the "outermost parentheses may be omitted"
// rule: (all) and all parse identically, as do (is-failed) and is-failed.
func (p *parser) parseFilterOrBareForm(table *AliasTable) (*Filter, error) {
	if p.peek().kind == tokLParen {
		return p.parseList(table)
	}
	if p.peek().kind == tokAtom {
		head := p.next().text
		return p.buildForm(head, nil, table)
	}
	return nil, fmt.Errorf("filter: expected a filter expression, got %v", p.peek())
}

func (p *parser) parseList(table *AliasTable) (*Filter, error) {
	if p.next().kind != tokLParen {
		return nil, fmt.Errorf("filter: expected '('")
	}
	if p.peek().kind != tokAtom {
		return nil, fmt.Errorf("filter: expected an operator atom after '('")
	}
	head := p.next().text

	var args []token
	depth := 0
	start := p.pos
	for {
		switch p.peek().kind {
		case tokEOF:
			return nil, fmt.Errorf("filter: unterminated list starting with %q", head)
		case tokLParen:
			depth++
			p.next()
		case tokRParen:
			if depth == 0 {
				args = p.toks[start:p.pos]
				p.next() // consume the closing paren
				return p.buildForm(head, args, table)
			}
			depth--
			p.next()
		default:
			p.next()
		}
	}
}

// buildForm dispatches on the operator atom, parsing its arguments out of
// the raw token slice args (nil for a bare atom form with no parens/args).
func (p *parser) buildForm(head string, args []token, table *AliasTable) (*Filter, error) {
	switch head {
	case "all":
		return All(), nil
	case "is-activable":
		return Status(KindIsActivable), nil
	case "is-in-progress":
		return Status(KindIsInProgress), nil
	case "is-successful":
		return Status(KindIsSuccessful), nil
	case "is-failed":
		return Status(KindIsFailed), nil
	case "is-really-running":
		return Status(KindIsReallyRunning), nil
	case "is-killable":
		return Status(KindIsKillable), nil
	case "is-dependency-dead":
		return Status(KindIsDependencyDead), nil
	case "is-activated-by-user":
		return Status(KindIsActivatedByUser), nil
	case "killed-from-passive":
		return Status(KindKilledFromPassive), nil
	case "failed-from-running":
		return Status(KindFailedFromRunning), nil
	case "failed-from-starting":
		return Status(KindFailedFromStarting), nil
	case "failed-from-condition":
		return Status(KindFailedFromCondition), nil
	case "created-in-the-past":
		return parseCreatedInThePast(args)
	case "and":
		return parseVariadic(args, table, And)
	case "or":
		return parseVariadic(args, table, Or)
	case "not":
		sub, err := parseSingleSubfilter(args, table)
		if err != nil {
			return nil, err
		}
		return Not(sub), nil
	case "name":
		pred, err := parsePred(args)
		if err != nil {
			return nil, err
		}
		return Name(pred), nil
	case "id":
		pred, err := parsePred(args)
		if err != nil {
			return nil, err
		}
		return ID(pred), nil
	case "tags":
		preds, err := parsePreds(args)
		if err != nil {
			return nil, err
		}
		return Tags(preds...), nil
	default:
		if f, ok := table.Expand(head, args); ok {
			return f, nil
		}
		return nil, fmt.Errorf("filter: unrecognized atom %q", head)
	}
}

func parseCreatedInThePast(args []token) (*Filter, error) {
	sub := subParser(args)
	if sub.peek().kind != tokLParen {
		return nil, fmt.Errorf("filter: created-in-the-past expects a (unit n) span")
	}
	sub.next()
	if sub.peek().kind != tokAtom {
		return nil, fmt.Errorf("filter: expected span unit")
	}
	unit := SpanUnit(sub.next().text)
	switch unit {
	case Hours, Days, Weeks:
	default:
		return nil, fmt.Errorf("filter: unrecognized span unit %q", unit)
	}
	if sub.peek().kind != tokAtom {
		return nil, fmt.Errorf("filter: expected span magnitude")
	}
	n, err := strconv.ParseFloat(sub.next().text, 64)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid span magnitude: %w", err)
	}
	if sub.next().kind != tokRParen {
		return nil, fmt.Errorf("filter: expected ')' closing span")
	}
	return CreatedInThePast(Span{Unit: unit, N: n}), nil
}

func parseVariadic(args []token, table *AliasTable, combine func(...*Filter) *Filter) (*Filter, error) {
	sub := subParser(args)
	var operands []*Filter
	for sub.peek().kind != tokEOF {
		f, err := sub.parseFilterOrBareForm(table)
		if err != nil {
			return nil, err
		}
		operands = append(operands, f)
	}
	return combine(operands...), nil
}

func parseSingleSubfilter(args []token, table *AliasTable) (*Filter, error) {
	sub := subParser(args)
	f, err := sub.parseFilterOrBareForm(table)
	if err != nil {
		return nil, err
	}
	if sub.peek().kind != tokEOF {
		return nil, fmt.Errorf("filter: not takes exactly one sub-filter")
	}
	return f, nil
}

func parsePred(args []token) (*Pred, error) {
	sub := subParser(args)
	p, err := parseOnePred(sub)
	if err != nil {
		return nil, err
	}
	if sub.peek().kind != tokEOF {
		return nil, fmt.Errorf("filter: expected exactly one predicate")
	}
	return p, nil
}

func parsePreds(args []token) ([]*Pred, error) {
	sub := subParser(args)
	var preds []*Pred
	for sub.peek().kind != tokEOF {
		p, err := parseOnePred(sub)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// parseOnePred consumes either a bare string/atom (shorthand for equals) or
// an (equals s) / (re s) / (matches s) form.
func parseOnePred(sub *parser) (*Pred, error) {
	switch sub.peek().kind {
	case tokString:
		return &Pred{Kind: PredEquals, Literal: sub.next().text}, nil
	case tokAtom:
		return &Pred{Kind: PredEquals, Literal: sub.next().text}, nil
	case tokLParen:
		sub.next()
		if sub.peek().kind != tokAtom {
			return nil, fmt.Errorf("filter: expected predicate operator")
		}
		op := sub.next().text
		var kind PredKind
		switch op {
		case "equals":
			kind = PredEquals
		case "re":
			kind = PredRegex
		case "matches":
			kind = PredMatches
		default:
			return nil, fmt.Errorf("filter: unrecognized predicate operator %q", op)
		}
		if sub.peek().kind != tokAtom && sub.peek().kind != tokString {
			return nil, fmt.Errorf("filter: expected a literal argument to %q", op)
		}
		lit := sub.next().text
		if sub.next().kind != tokRParen {
			return nil, fmt.Errorf("filter: expected ')' closing %q predicate", op)
		}
		return &Pred{Kind: kind, Literal: lit}, nil
	default:
		return nil, fmt.Errorf("filter: expected a predicate")
	}
}

// subParser builds a parser scoped to a sub-slice of tokens, terminated by
// a synthetic EOF, so nested parses can't read past their own arguments.
func subParser(args []token) *parser {
	toks := make([]token, len(args)+1)
	copy(toks, args)
	toks[len(args)] = token{kind: tokEOF}
	return &parser{toks: toks}
}
