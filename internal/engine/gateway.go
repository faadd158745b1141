package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cirrusflow/internal/api"
	"cirrusflow/internal/filter"
	"cirrusflow/internal/store"
	"cirrusflow/internal/target"
)

var _ api.Gateway = (*Engine)(nil)

// Submit creates one Passive target per spec, assigning a fresh uuid to
// each, and persists it via the store. A target naming a backend has its
// initial run_parameters built by that backend's Create.
func (e *Engine) Submit(ctx context.Context, specs []api.TargetSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id := uuid.NewString()
		t := target.New(id, spec.Name, time.Now())
		for _, tag := range spec.Tags {
			t.AddTag(tag)
		}
		if spec.Metadata != nil {
			t.Metadata = spec.Metadata
		}
		t.DependsOn = spec.DependsOn
		t.MakeFailIf = spec.MakeFailIf
		t.SuccessTriggers = spec.SuccessTriggers
		t.Condition = spec.Condition
		t.Equivalence = spec.Equivalence
		t.BuildProcess = target.BuildProcess{Kind: spec.BuildKind, Backend: spec.Backend}

		if spec.Backend != "" {
			b, ok := e.backends.Get(spec.Backend)
			if !ok {
				return ids, fmt.Errorf("engine: submit %s: unknown backend %q", spec.Name, spec.Backend)
			}
			rp, err := b.Create(ctx, spec.Config)
			if err != nil {
				return ids, fmt.Errorf("engine: submit %s: %w", spec.Name, err)
			}
			t.BuildProcess.RunParameters = rp
		}

		if err := e.store.Put(ctx, t); err != nil {
			return ids, fmt.Errorf("engine: submit %s: %w", spec.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Query parses filterSrc, compiles it into a time constraint plus residual
// predicate, and scans the store for matches. The time constraint is
// applied as a cheap prefilter before the (possibly more expensive)
// residual predicate runs.
func (e *Engine) Query(ctx context.Context, filterSrc string) ([]api.Summary, error) {
	f, err := filter.Parse(filterSrc, filter.DefaultAliases())
	if err != nil {
		return nil, fmt.Errorf("engine: query: %w", err)
	}
	now := time.Now()
	compiled := filter.Compile(f, now)

	var out []api.Summary
	scanErr := e.store.Scan(func(t *target.Target, err error) error {
		if err != nil {
			return nil // skip a record that failed to load; Scan keeps going
		}
		if compiled.TimeConstraint.Since != nil && t.CreatedAt().Before(*compiled.TimeConstraint.Since) {
			return nil
		}
		ok, err := filter.Eval(compiled.Predicate, t, now)
		if err != nil || !ok {
			return nil
		}
		out = append(out, api.Summary{ID: t.ID, Name: t.Name, State: t.State(), CreatedAt: t.CreatedAt()})
		return nil
	})
	if scanErr != nil {
		return nil, fmt.Errorf("engine: query: scan: %w", scanErr)
	}
	return out, nil
}

// GetTarget returns the full record for id.
func (e *Engine) GetTarget(ctx context.Context, id string) (*target.Target, error) {
	return e.store.Get(ctx, id)
}

// Kill issues a kill command for every id, stopping at the first error.
func (e *Engine) Kill(ctx context.Context, ids []string) error {
	return e.commandEach(ctx, ids, store.CommandKill)
}

// Restart issues a restart command for every id, stopping at the first
// error.
func (e *Engine) Restart(ctx context.Context, ids []string) error {
	return e.commandEach(ctx, ids, store.CommandRestart)
}

// Activate issues a user-initiated activate command for every id, stopping
// at the first error.
func (e *Engine) Activate(ctx context.Context, ids []string) error {
	return e.commandEach(ctx, ids, store.CommandActivate)
}

func (e *Engine) commandEach(ctx context.Context, ids []string, kind store.CommandKind) error {
	for _, id := range ids {
		cmd := store.Command{Kind: kind, TargetID: id, Timestamp: time.Now()}
		if err := e.HandleCommand(ctx, cmd); err != nil {
			return fmt.Errorf("engine: %s %s: %w", kind, id, err)
		}
	}
	return nil
}

// GetArtifact delegates to the owning backend's Query for queryName.
func (e *Engine) GetArtifact(ctx context.Context, targetID, queryName string) ([]byte, error) {
	t, err := e.store.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	b, ok := e.backends.Get(t.BuildProcess.Backend)
	if !ok {
		return nil, fmt.Errorf("engine: get_artifact %s: unknown backend %q", targetID, t.BuildProcess.Backend)
	}
	h := e.hostOf(t)
	return b.Query(ctx, t.BuildProcess.RunParameters, h, queryName)
}
