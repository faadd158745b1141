// Package api declares the Gateway interface an external transport (HTTPS
// server, CLI) binds to: submit/query/get_target/kill/restart/activate/
// get_artifact. No transport lives here — only the Go method set and the
// message shapes a transport would marshal to and from wire format.
package api

import (
	"context"
	"time"

	"cirrusflow/internal/target"
)

// TargetSpec is what a client submits to create one target.
type TargetSpec struct {
	Name            string
	Tags            []string
	Metadata        map[string]any
	DependsOn       []string
	MakeFailIf      []string
	SuccessTriggers []string
	Condition       *target.Condition
	Equivalence     target.Equivalence
	BuildKind       target.BuildProcessKind
	Backend         string
	// Config is passed to the backend's Create to build the initial
	// run_parameters; ignored for no-op targets.
	Config map[string]any
}

// Summary is the coarse record a query returns per matching target.
type Summary struct {
	ID        string
	Name      string
	State     target.State
	CreatedAt time.Time
}

// Gateway is the capability set a transport layer (or the CLI) drives the
// engine through. engine.Engine implements it directly.
type Gateway interface {
	// Submit creates one target per spec, in Passive state, and returns
	// their assigned ids in the same order.
	Submit(ctx context.Context, specs []TargetSpec) ([]string, error)

	// Query evaluates filterSrc (s-expression syntax) against every
	// target and returns a Summary per match.
	Query(ctx context.Context, filterSrc string) ([]Summary, error)

	// GetTarget returns the full record for id.
	GetTarget(ctx context.Context, id string) (*target.Target, error)

	// Kill, Restart, Activate apply the named command to every id,
	// returning the first error encountered (if any); already-applied
	// ids are not rolled back.
	Kill(ctx context.Context, ids []string) error
	Restart(ctx context.Context, ids []string) error
	Activate(ctx context.Context, ids []string) error

	// GetArtifact delegates to the owning backend's Query for queryName
	// (stdout, stderr, log, script, or a backend-specific name).
	GetArtifact(ctx context.Context, targetID, queryName string) ([]byte, error)
}
