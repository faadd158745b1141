package engine

import (
	"context"

	"cirrusflow/internal/host"
	"cirrusflow/internal/target"
)

// conditionRunner adapts a host.Host to target.CommandRunner, discarding the
// stdout/stderr a Condition never looks at.
type conditionRunner struct {
	h host.Host
}

func asConditionRunner(h host.Host) target.CommandRunner {
	return conditionRunner{h: h}
}

func (r conditionRunner) RunCommand(ctx context.Context, cmd string) (target.CommandResult, error) {
	res, err := r.h.RunCommand(ctx, cmd)
	if err != nil {
		return target.CommandResult{}, err
	}
	return target.CommandResult{Exit: res.Exit}, nil
}
