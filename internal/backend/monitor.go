package backend

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// monitorScriptTemplate wraps a user program with a preamble that appends
// structured log entries as it runs. Rendering is done with text/template.
const monitorScriptTemplate = `#!/bin/sh
{{if .Directives}}{{.Directives}}
{{end}}set -u
PLAYGROUND={{.Playground}}
LOG="$PLAYGROUND/monitor.log"
echo "start $(date +%s)" >> "$LOG"

echo "before main" >> "$LOG"
sh -c '{{.Command}}' > "$PLAYGROUND/stdout.log" 2> "$PLAYGROUND/stderr.log"
code=$?
echo "after main $code" >> "$LOG"

if [ "$code" -eq 0 ]; then
	echo "success $(date +%s)" >> "$LOG"
else
	echo "failure $(date +%s) main $code" >> "$LOG"
fi
exit $code
`

// MonitoredScript is the rendered wrapper plus the paths the backend needs
// to know about inside the playground directory it chose.
type MonitoredScript struct {
	Playground string
	ScriptPath string
	LogPath    string
	StdoutPath string
	StderrPath string
	Contents   string
}

// RenderMonitoredScript builds the monitored script for running command
// inside playground.
func RenderMonitoredScript(playground, command string) (MonitoredScript, error) {
	return RenderMonitoredScriptWithDirectives(playground, command, "")
}

// RenderMonitoredScriptWithDirectives is RenderMonitoredScript plus a block
// of scheduler-specific directive lines (e.g. #PBS, #BSUB) inserted right
// after the shebang, for backends that submit the script itself as the job.
func RenderMonitoredScriptWithDirectives(playground, command, directives string) (MonitoredScript, error) {
	tmpl, err := template.New("monitor").Parse(monitorScriptTemplate)
	if err != nil {
		return MonitoredScript{}, fmt.Errorf("parse monitor script template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Playground string
		Command    string
		Directives string
	}{Playground: playground, Command: command, Directives: directives})
	if err != nil {
		return MonitoredScript{}, fmt.Errorf("render monitor script: %w", err)
	}
	return MonitoredScript{
		Playground: playground,
		ScriptPath: playground + "/monitor.sh",
		LogPath:    playground + "/monitor.log",
		StdoutPath: playground + "/stdout.log",
		StderrPath: playground + "/stderr.log",
		Contents:   buf.String(),
	}, nil
}

// LogRecord is one parsed line of a monitor.log file.
type LogRecord struct {
	Kind      string // start, before, after, success, failure
	Label     string // set for before/after/failure
	Timestamp int64  // set for start/success/failure
	ExitCode  int    // set for after/failure
}

// ParseMonitorLog parses every record in a monitor.log's contents, in
// order. A malformed line is skipped rather than failing the whole parse,
// since a partially-written line (the job is killed mid-write) is expected,
// not fatal.
func ParseMonitorLog(data []byte) []LogRecord {
	lines := strings.Split(string(data), "\n")
	records := make([]LogRecord, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "start":
			if len(fields) >= 2 {
				records = append(records, LogRecord{Kind: "start", Timestamp: atoiOr0(fields[1])})
			}
		case "before":
			if len(fields) >= 2 {
				records = append(records, LogRecord{Kind: "before", Label: fields[1]})
			}
		case "after":
			if len(fields) >= 3 {
				records = append(records, LogRecord{Kind: "after", Label: fields[1], ExitCode: int(atoiOr0(fields[2]))})
			}
		case "success":
			if len(fields) >= 2 {
				records = append(records, LogRecord{Kind: "success", Timestamp: atoiOr0(fields[1])})
			}
		case "failure":
			if len(fields) >= 4 {
				records = append(records, LogRecord{
					Kind:      "failure",
					Timestamp: atoiOr0(fields[1]),
					Label:     fields[2],
					ExitCode:  int(atoiOr0(fields[3])),
				})
			}
		}
	}
	return records
}

// LastOutcome inspects the final record of a parsed log and reports whether
// it is a terminal success/failure record: if its last
// record is success, the target is Succeeded; if failure, Failed with that
// label+exit.
func LastOutcome(records []LogRecord) (kind string, label string, exit int, ok bool) {
	if len(records) == 0 {
		return "", "", 0, false
	}
	last := records[len(records)-1]
	switch last.Kind {
	case "success":
		return "success", "", 0, true
	case "failure":
		return "failure", last.Label, last.ExitCode, true
	default:
		return "", "", 0, false
	}
}

func atoiOr0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// PlaygroundName builds a fresh, collision-resistant playground directory
// name under base for a submission at t, scoped by targetID.
func PlaygroundName(base, targetID string, t time.Time) string {
	return fmt.Sprintf("%s/%s-%d", base, targetID, t.UnixNano())
}
