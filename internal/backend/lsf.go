package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cirrusflow/internal/envelope"
	"cirrusflow/internal/host"
)

// lsfParams is the run_parameters payload for the LSF backend.
type lsfParams struct {
	Command    string `json:"command"`
	BaseDir    string `json:"base_dir"`
	TargetID   string `json:"target_id"`
	Queue      string `json:"queue,omitempty"`
	Playground string `json:"playground,omitempty"`
	ScriptPath string `json:"script_path,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Attempt    int    `json:"attempt"`
}

var lsfEnvelope = envelope.NewChain(1)

// bsub prints "Job <123> is submitted to queue <name>."
var bsubJobIDRe = regexp.MustCompile(`Job <(\d+)>`)
var bjobsStatRe = regexp.MustCompile(`(?m)^\s*\d+\s+\S+\s+(\S+)`)

// LSFBackend submits jobs via bsub and polls them via bjobs.
type LSFBackend struct{}

func NewLSF() *LSFBackend { return &LSFBackend{} }

func (b *LSFBackend) Name() string { return "lsf" }

func (b *LSFBackend) Create(_ context.Context, config map[string]any) (RunParameters, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("lsf backend: config.command is required")
	}
	baseDir, _ := config["base_dir"].(string)
	if baseDir == "" {
		baseDir = "/tmp/cirrusflow-playgrounds"
	}
	targetID, _ := config["target_id"].(string)
	queue, _ := config["queue"].(string)
	data, err := lsfEnvelope.Wrap(lsfParams{Command: command, BaseDir: baseDir, TargetID: targetID, Queue: queue})
	return RunParameters(data), err
}

func (b *LSFBackend) Start(ctx context.Context, rp RunParameters, h host.Host) (StartOutcome, error) {
	var p lsfParams
	if err := lsfEnvelope.Unwrap(rp, &p); err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}

	p.Playground = PlaygroundName(p.BaseDir, p.TargetID, time.Now())
	if err := h.EnsureDirectory(ctx, p.Playground); err != nil {
		return classifyHostError(err)
	}

	directives := fmt.Sprintf("#BSUB -J cf-%s\n#BSUB -o %s/lsf.out\n#BSUB -e %s/lsf.err", p.TargetID, p.Playground, p.Playground)
	if p.Queue != "" {
		directives += "\n#BSUB -q " + p.Queue
	}
	script, err := RenderMonitoredScriptWithDirectives(p.Playground, p.Command, directives)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	p.ScriptPath, p.LogPath, p.StdoutPath, p.StderrPath = script.ScriptPath, script.LogPath, script.StdoutPath, script.StderrPath

	if err := h.PutFile(ctx, p.ScriptPath, []byte(script.Contents)); err != nil {
		return classifyHostError(err)
	}

	res, err := h.RunCommand(ctx, "bsub < "+p.ScriptPath)
	if err != nil {
		return classifyHostError(err)
	}
	if res.Exit != 0 {
		return StartOutcome{Kind: StartFatal, Reason: fmt.Sprintf("bsub exited %d: %s", res.Exit, res.Stderr)}, nil
	}
	m := bsubJobIDRe.FindSubmatch(res.Stdout)
	if m == nil {
		return StartOutcome{Kind: StartFatal, Reason: "bsub exited 0 but did not report a job id"}, nil
	}
	p.JobID = string(m[1])

	data, err := lsfEnvelope.Wrap(p)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	return StartOutcome{Kind: StartOK, RunParameters: RunParameters(data)}, nil
}

func (b *LSFBackend) Update(ctx context.Context, rp RunParameters, h host.Host) (UpdateOutcome, error) {
	var p lsfParams
	if err := lsfEnvelope.Unwrap(rp, &p); err != nil {
		return UpdateOutcome{Kind: UpdateFailed, Reason: err.Error()}, nil
	}

	if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
		return outcome, nil
	}

	res, err := h.RunCommand(ctx, "bjobs "+p.JobID)
	if err != nil {
		return classifyUpdateHostError(err)
	}
	switch mapLSFState(res) {
	case "Running":
		return UpdateOutcome{Kind: UpdateStillRunning, RunParameters: rp}, nil
	case "Completed":
		if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
			return outcome, nil
		}
		return UpdateOutcome{Kind: UpdateFailed, Reason: "bjobs reports the job left the queue but monitor log has no outcome", RunParameters: rp}, nil
	default:
		return UpdateOutcome{Kind: UpdateUnknown, RunParameters: rp, Reason: "unrecognized bjobs output"}, nil
	}
}

func mapLSFState(res host.CommandResult) string {
	if res.Exit != 0 || strings.Contains(string(res.Stdout), "not found") {
		return "Completed"
	}
	m := bjobsStatRe.FindSubmatch(res.Stdout)
	if m == nil {
		return "Unknown"
	}
	switch string(m[1]) {
	case "RUN", "PEND", "PSUSP", "USUSP", "SSUSP", "WAIT":
		return "Running"
	case "DONE", "EXIT":
		return "Completed"
	default:
		return "Unknown"
	}
}

func (b *LSFBackend) Kill(ctx context.Context, rp RunParameters, h host.Host) error {
	var p lsfParams
	if err := lsfEnvelope.Unwrap(rp, &p); err != nil {
		return err
	}
	if p.JobID == "" {
		return nil
	}
	_, err := h.RunCommand(ctx, "bkill "+p.JobID)
	return err
}

func (b *LSFBackend) Query(ctx context.Context, rp RunParameters, h host.Host, item string) ([]byte, error) {
	var p lsfParams
	if err := lsfEnvelope.Unwrap(rp, &p); err != nil {
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
	case "bjobs":
		res, err := h.RunCommand(ctx, "bjobs "+p.JobID)
		if err != nil {
			return nil, err
		}
		return res.Stdout, nil
	default:
		return nil, &ErrUnknownQuery{Backend: b.Name(), Item: item}
	}
}

func (b *LSFBackend) AdditionalQueries(RunParameters) []string { return []string{"bjobs"} }
