package target

import (
	"context"
	"fmt"
	"strings"
)

// ConditionKind tags the variant of a Condition predicate.
type ConditionKind string

const (
	CondTrue           ConditionKind = "true"
	CondFalse          ConditionKind = "false"
	CondVolumeExists   ConditionKind = "volume_exists"
	CondCommandReturns ConditionKind = "command_returns"
	CondAnd            ConditionKind = "and"
	CondOr             ConditionKind = "or"
	CondNot            ConditionKind = "not"
)

// Condition is an immutable predicate tree, evaluated on a Host to decide
// whether a target's work is already done (skip-check) or actually
// succeeded (post-run verification).
type Condition struct {
	Kind ConditionKind

	// Path is set for CondVolumeExists.
	Path string

	// Command and ExpectedCode are set for CondCommandReturns.
	Command      string
	ExpectedCode int

	// Operands holds the children for CondAnd / CondOr.
	Operands []*Condition

	// Operand holds the single child for CondNot.
	Operand *Condition
}

func True() *Condition  { return &Condition{Kind: CondTrue} }
func False() *Condition { return &Condition{Kind: CondFalse} }

func VolumeExists(path string) *Condition {
	return &Condition{Kind: CondVolumeExists, Path: path}
}

func CommandReturns(cmd string, code int) *Condition {
	return &Condition{Kind: CondCommandReturns, Command: cmd, ExpectedCode: code}
}

func And(operands ...*Condition) *Condition {
	return &Condition{Kind: CondAnd, Operands: operands}
}

func Or(operands ...*Condition) *Condition {
	return &Condition{Kind: CondOr, Operands: operands}
}

func Not(operand *Condition) *Condition {
	return &Condition{Kind: CondNot, Operand: operand}
}

// CommandResult is the subset of a Host's run_command result a condition
// needs: exit code only. Transport failures are returned as an error by
// CommandRunner and propagate as an unevaluable condition.
type CommandResult struct {
	Exit int
}

// CommandRunner is the minimal capability a Condition needs from a Host.
// host.Host satisfies this structurally; kept local to avoid a dependency
// from target on host.
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd string) (CommandResult, error)
}

// Holds reports whether c evaluates to true against host. A nil condition
// always holds.
func (c *Condition) Holds(ctx context.Context, host CommandRunner) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Kind {
	case CondTrue:
		return true, nil
	case CondFalse:
		return false, nil
	case CondVolumeExists:
		res, err := host.RunCommand(ctx, fmt.Sprintf("test -e %s", shellQuote(c.Path)))
		if err != nil {
			return false, fmt.Errorf("volume_exists %q: %w", c.Path, err)
		}
		return res.Exit == 0, nil
	case CondCommandReturns:
		res, err := host.RunCommand(ctx, c.Command)
		if err != nil {
			return false, fmt.Errorf("command_returns %q: %w", c.Command, err)
		}
		return res.Exit == c.ExpectedCode, nil
	case CondAnd:
		for _, op := range c.Operands {
			ok, err := op.Holds(ctx, host)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case CondOr:
		for _, op := range c.Operands {
			ok, err := op.Holds(ctx, host)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case CondNot:
		ok, err := c.Operand.Holds(ctx, host)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unevaluable condition kind %q", c.Kind)
	}
}

// Equal reports structural equality, used for Same_active_condition
// deduplication.
func (c *Condition) Equal(other *Condition) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case CondVolumeExists:
		return c.Path == other.Path
	case CondCommandReturns:
		return c.Command == other.Command && c.ExpectedCode == other.ExpectedCode
	case CondAnd, CondOr:
		if len(c.Operands) != len(other.Operands) {
			return false
		}
		for i := range c.Operands {
			if !c.Operands[i].Equal(other.Operands[i]) {
				return false
			}
		}
		return true
	case CondNot:
		return c.Operand.Equal(other.Operand)
	default:
		return true
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
