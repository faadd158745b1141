// Package logging provides the engine's structured logger: one logger,
// leveled output, a timestamp on every line, built on go-kit/log so call
// sites log structured key/value pairs instead of preformatted strings.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/go-kit/log"
)

// Logger is the type every engine/backend/store call site logs through.
type Logger = log.Logger

// New builds a timestamped, leveled logger writing to w.
func New(w io.Writer) Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(w))
	return log.With(base, "ts", log.TimestampFormat(time.Now, time.RFC3339), "caller", log.DefaultCaller)
}

// NewFile opens (creating if necessary) path in append mode and returns a
// Logger writing to it: one logger, one file, parameterized on path
// instead of a hardcoded name.
func NewFile(path string) (Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}
