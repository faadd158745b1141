package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cirrusflow/internal/envelope"
	"cirrusflow/internal/host"
)

// processParams is the run_parameters payload for the "process" backend:
// a plain foreground/background process launched directly on a Host,
// wrapped in the shared monitored script. Versioned independently from the
// target's own envelope.
type processParams struct {
	Command    string `json:"command"`
	BaseDir    string `json:"base_dir"`
	TargetID   string `json:"target_id"`
	Playground string `json:"playground,omitempty"`
	ScriptPath string `json:"script_path,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
	PID        int    `json:"pid,omitempty"`
	Attempt    int    `json:"attempt"`
}

var processEnvelope = envelope.NewChain(1)

// ProcessBackend runs a shell command directly on a Host (local or SSH),
// the "generic process" backend, alongside the
// cluster schedulers.
type ProcessBackend struct{}

func NewProcess() *ProcessBackend { return &ProcessBackend{} }

func (b *ProcessBackend) Name() string { return "process" }

func (b *ProcessBackend) Create(_ context.Context, config map[string]any) (RunParameters, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("process backend: config.command is required")
	}
	baseDir, _ := config["base_dir"].(string)
	if baseDir == "" {
		baseDir = "/tmp/cirrusflow-playgrounds"
	}
	targetID, _ := config["target_id"].(string)
	data, err := processEnvelope.Wrap(processParams{Command: command, BaseDir: baseDir, TargetID: targetID})
	return RunParameters(data), err
}

func (b *ProcessBackend) Start(ctx context.Context, rp RunParameters, h host.Host) (StartOutcome, error) {
	var p processParams
	if err := processEnvelope.Unwrap(rp, &p); err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}

	p.Playground = PlaygroundName(p.BaseDir, p.TargetID, time.Now())
	if err := h.EnsureDirectory(ctx, p.Playground); err != nil {
		return classifyHostError(err)
	}

	script, err := RenderMonitoredScript(p.Playground, p.Command)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	p.ScriptPath, p.LogPath, p.StdoutPath, p.StderrPath = script.ScriptPath, script.LogPath, script.StdoutPath, script.StderrPath

	if err := h.PutFile(ctx, p.ScriptPath, []byte(script.Contents)); err != nil {
		return classifyHostError(err)
	}

	launch := fmt.Sprintf("nohup sh %s >/dev/null 2>&1 & echo $!", p.ScriptPath)
	res, err := h.RunCommand(ctx, launch)
	if err != nil {
		return classifyHostError(err)
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	if perr != nil || res.Exit != 0 {
		return StartOutcome{Kind: StartFatal, Reason: fmt.Sprintf("launch did not report a pid: exit=%d stdout=%q", res.Exit, res.Stdout)}, nil
	}
	p.PID = pid

	data, err := processEnvelope.Wrap(p)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	return StartOutcome{Kind: StartOK, RunParameters: RunParameters(data)}, nil
}

func (b *ProcessBackend) Update(ctx context.Context, rp RunParameters, h host.Host) (UpdateOutcome, error) {
	var p processParams
	if err := processEnvelope.Unwrap(rp, &p); err != nil {
		return UpdateOutcome{Kind: UpdateFailed, Reason: err.Error()}, nil
	}

	if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
		return outcome, nil
	}

	res, err := h.RunCommand(ctx, fmt.Sprintf("kill -0 %d", p.PID))
	if err != nil {
		return classifyUpdateHostError(err)
	}
	if res.Exit == 0 {
		return UpdateOutcome{Kind: UpdateStillRunning, RunParameters: rp}, nil
	}
	// Process is gone but never wrote success/failure: re-check the log once
	// more for a race-free read before declaring failure.
	if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
		return outcome, nil
	}
	return UpdateOutcome{Kind: UpdateFailed, Reason: "process exited without recording an outcome", RunParameters: rp}, nil
}

func (b *ProcessBackend) Kill(ctx context.Context, rp RunParameters, h host.Host) error {
	var p processParams
	if err := processEnvelope.Unwrap(rp, &p); err != nil {
		return err
	}
	if p.PID == 0 {
		return nil // never started: idempotent no-op
	}
	_, err := h.RunCommand(ctx, fmt.Sprintf("kill %d", p.PID))
	return err
}

func (b *ProcessBackend) Query(ctx context.Context, rp RunParameters, h host.Host, item string) ([]byte, error) {
	var p processParams
	if err := processEnvelope.Unwrap(rp, &p); err != nil {
		return nil, err
	}
	switch item {
	case "stdout":
		return h.GetFile(ctx, p.StdoutPath)
	case "stderr":
		return h.GetFile(ctx, p.StderrPath)
	case "log":
		return h.GetFile(ctx, p.LogPath)
	case "script":
		return h.GetFile(ctx, p.ScriptPath)
	default:
		return nil, &ErrUnknownQuery{Backend: b.Name(), Item: item}
	}
}

func (b *ProcessBackend) AdditionalQueries(RunParameters) []string { return nil }

func classifyHostError(err error) (StartOutcome, error) {
	if errors.Is(err, host.ErrHostUnreachable) {
		return StartOutcome{Kind: StartRecoverable, Reason: err.Error()}, nil
	}
	return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
}

func classifyUpdateHostError(err error) (UpdateOutcome, error) {
	if errors.Is(err, host.ErrHostUnreachable) {
		return UpdateOutcome{Kind: UpdateUnknown, Reason: err.Error()}, nil
	}
	return UpdateOutcome{Kind: UpdateFailed, Reason: err.Error()}, nil
}
