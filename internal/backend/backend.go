// Package backend implements the per-backend plugin interface: a
// polymorphic module exposing name/create/start/update/kill/query over a
// Host, registered by name with no runtime/dynamic plugin loading — the
// set of backends is compiled in.
package backend

import (
	"context"
	"fmt"

	"cirrusflow/internal/host"
)

// RunParameters is backend-opaque serialized state describing an in-flight
// job. The engine never inspects its contents; only the owning backend's
// Serialize/Deserialize understands the bytes.
type RunParameters []byte

// StartKind classifies the result of Backend.Start: fatal submission
// failures are distinguished from recoverable ones.
type StartKind string

const (
	StartOK          StartKind = "ok"
	StartFatal       StartKind = "fatal"
	StartRecoverable StartKind = "recoverable"
)

// StartOutcome is the sum-typed result of a start() call.
type StartOutcome struct {
	Kind          StartKind
	RunParameters RunParameters // populated on StartOK: the new "running" run_parameters
	Reason        string        // populated on StartFatal / StartRecoverable
}

// UpdateKind classifies the result of Backend.Update.
type UpdateKind string

const (
	UpdateStillRunning UpdateKind = "still_running"
	UpdateSucceeded    UpdateKind = "succeeded"
	UpdateFailed       UpdateKind = "failed"
	UpdateUnknown      UpdateKind = "unknown" // vendor status did not map cleanly; treated as recoverable by the caller
)

// UpdateOutcome is the sum-typed result of an update() call.
type UpdateOutcome struct {
	Kind          UpdateKind
	RunParameters RunParameters // possibly-updated run_parameters (e.g. incremented poll count)
	Reason        string        // populated on UpdateFailed
}

// Backend is the capability set every plugin (local process, PBS, LSF,
// BigQuery, ...) implements.
type Backend interface {
	Name() string

	// Create turns a backend-specific config into an initial, not-yet-started
	// RunParameters blob.
	Create(ctx context.Context, config map[string]any) (RunParameters, error)

	// Start submits the job described by rp on h and returns either a fresh
	// "running" RunParameters (StartOK), or a fatal/recoverable outcome.
	Start(ctx context.Context, rp RunParameters, h host.Host) (StartOutcome, error)

	// Update polls the job's status. Implementations read the monitored
	// script's log first, then fall back to querying the scheduler
	// (a race-free re-check rather than trusting the scheduler's status alone).
	Update(ctx context.Context, rp RunParameters, h host.Host) (UpdateOutcome, error)

	// Kill issues the backend's cancel verb. Idempotent.
	Kill(ctx context.Context, rp RunParameters, h host.Host) error

	// Query exposes a named diagnostic stream (stdout, stderr, log, script,
	// or a vendor-specific name). Unknown names fail non-fatally (return an
	// error, not a panic).
	Query(ctx context.Context, rp RunParameters, h host.Host, item string) ([]byte, error)

	// AdditionalQueries lists the vendor-specific query names valid for this
	// particular run (on top of the universal stdout/stderr/log/script set).
	AdditionalQueries(rp RunParameters) []string
}

// ErrUnknownQuery is returned by Query for an unrecognized item name.
type ErrUnknownQuery struct {
	Backend string
	Item    string
}

func (e *ErrUnknownQuery) Error() string {
	return fmt.Sprintf("backend %s: unknown query %q", e.Backend, e.Item)
}
