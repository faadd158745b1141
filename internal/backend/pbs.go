package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cirrusflow/internal/envelope"
	"cirrusflow/internal/host"
)

// pbsParams is the run_parameters payload for the PBS/Torque backend.
type pbsParams struct {
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

var pbsEnvelope = envelope.NewChain(1)

var jobIDRe = regexp.MustCompile(`^\S+`)
var qstatJobStateRe = regexp.MustCompile(`(?m)^\s*job_state\s*=\s*(\S+)`)

// PBSBackend submits jobs via qsub and polls them via qstat -f1.
type PBSBackend struct{}

func NewPBS() *PBSBackend { return &PBSBackend{} }

func (b *PBSBackend) Name() string { return "pbs" }

func (b *PBSBackend) Create(_ context.Context, config map[string]any) (RunParameters, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("pbs backend: config.command is required")
	}
	baseDir, _ := config["base_dir"].(string)
	if baseDir == "" {
		baseDir = "/tmp/cirrusflow-playgrounds"
	}
	targetID, _ := config["target_id"].(string)
	queue, _ := config["queue"].(string)
	data, err := pbsEnvelope.Wrap(pbsParams{Command: command, BaseDir: baseDir, TargetID: targetID, Queue: queue})
	return RunParameters(data), err
}

func (b *PBSBackend) Start(ctx context.Context, rp RunParameters, h host.Host) (StartOutcome, error) {
	var p pbsParams
	if err := pbsEnvelope.Unwrap(rp, &p); err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}

	p.Playground = PlaygroundName(p.BaseDir, p.TargetID, time.Now())
	if err := h.EnsureDirectory(ctx, p.Playground); err != nil {
		return classifyHostError(err)
	}

	directives := fmt.Sprintf("#PBS -N cf-%s\n#PBS -o %s/pbs.out\n#PBS -e %s/pbs.err", p.TargetID, p.Playground, p.Playground)
	if p.Queue != "" {
		directives += "\n#PBS -q " + p.Queue
	}
	script, err := RenderMonitoredScriptWithDirectives(p.Playground, p.Command, directives)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	p.ScriptPath, p.LogPath, p.StdoutPath, p.StderrPath = script.ScriptPath, script.LogPath, script.StdoutPath, script.StderrPath

	if err := h.PutFile(ctx, p.ScriptPath, []byte(script.Contents)); err != nil {
		return classifyHostError(err)
	}

	res, err := h.RunCommand(ctx, "qsub "+p.ScriptPath)
	if err != nil {
		return classifyHostError(err)
	}
	if res.Exit != 0 {
		return StartOutcome{Kind: StartFatal, Reason: fmt.Sprintf("qsub exited %d: %s", res.Exit, res.Stderr)}, nil
	}
	jobID := strings.TrimSpace(jobIDRe.FindString(strings.TrimSpace(string(res.Stdout))))
	if jobID == "" {
		return StartOutcome{Kind: StartFatal, Reason: "qsub exited 0 but produced no job id"}, nil
	}
	p.JobID = jobID

	data, err := pbsEnvelope.Wrap(p)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	return StartOutcome{Kind: StartOK, RunParameters: RunParameters(data)}, nil
}

func (b *PBSBackend) Update(ctx context.Context, rp RunParameters, h host.Host) (UpdateOutcome, error) {
	var p pbsParams
	if err := pbsEnvelope.Unwrap(rp, &p); err != nil {
		return UpdateOutcome{Kind: UpdateFailed, Reason: err.Error()}, nil
	}

	if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
		return outcome, nil
	}

	res, err := h.RunCommand(ctx, "qstat -f1 "+p.JobID)
	if err != nil {
		return classifyUpdateHostError(err)
	}
	state := mapPBSState(res)
	switch state {
	case "Running":
		return UpdateOutcome{Kind: UpdateStillRunning, RunParameters: rp}, nil
	case "Completed":
		// Re-read the log once more before declaring failure.
		if outcome, done := checkMonitorLog(ctx, h, p.LogPath, rp); done {
			return outcome, nil
		}
		return UpdateOutcome{Kind: UpdateFailed, Reason: "qstat reports completed but monitor log has no outcome", RunParameters: rp}, nil
	default:
		return UpdateOutcome{Kind: UpdateUnknown, RunParameters: rp, Reason: "unrecognized qstat output"}, nil
	}
}

func mapPBSState(res host.CommandResult) string {
	if res.Exit != 0 {
		// qstat returns nonzero once the job has left the queue entirely on
		// many PBS/Torque builds; treat "job unknown" the same as completed
		// so Update falls through to the log-based race-free check.
		return "Completed"
	}
	m := qstatJobStateRe.FindSubmatch(res.Stdout)
	if m == nil {
		return "Unknown"
	}
	switch string(m[1]) {
	case "R", "Q", "H", "W", "S", "T":
		return "Running"
	case "C", "E":
		return "Completed"
	default:
		return "Unknown"
	}
}

func checkMonitorLog(ctx context.Context, h host.Host, logPath string, rp RunParameters) (UpdateOutcome, bool) {
	data, err := h.GetFile(ctx, logPath)
	if err != nil {
		if errors.Is(err, host.ErrMissingFile) {
			return UpdateOutcome{}, false
		}
		return UpdateOutcome{Kind: UpdateUnknown, Reason: err.Error(), RunParameters: rp}, true
	}
	kind, label, exit, ok := LastOutcome(ParseMonitorLog(data))
	if !ok {
		return UpdateOutcome{}, false
	}
	if kind == "success" {
		return UpdateOutcome{Kind: UpdateSucceeded, RunParameters: rp}, true
	}
	return UpdateOutcome{Kind: UpdateFailed, Reason: fmt.Sprintf("%s exited %d", label, exit), RunParameters: rp}, true
}

func (b *PBSBackend) Kill(ctx context.Context, rp RunParameters, h host.Host) error {
	var p pbsParams
	if err := pbsEnvelope.Unwrap(rp, &p); err != nil {
		return err
	}
	if p.JobID == "" {
		return nil
	}
	_, err := h.RunCommand(ctx, "qdel "+p.JobID)
	return err
}

func (b *PBSBackend) Query(ctx context.Context, rp RunParameters, h host.Host, item string) ([]byte, error) {
	var p pbsParams
	if err := pbsEnvelope.Unwrap(rp, &p); err != nil {
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
	case "qstat":
		res, err := h.RunCommand(ctx, "qstat -f1 "+p.JobID)
		if err != nil {
			return nil, err
		}
		return res.Stdout, nil
	default:
		return nil, &ErrUnknownQuery{Backend: b.Name(), Item: item}
	}
}

func (b *PBSBackend) AdditionalQueries(RunParameters) []string { return []string{"qstat"} }
