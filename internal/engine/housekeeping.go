package engine

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/robfig/cron/v3"
)

// StartHousekeeping schedules a periodic index rebuild (the store's
// secondary indices are an in-memory cache over the on-disk records; a
// scheduled full rescan guards against drift if they were ever mutated
// outside the engine, e.g. by a manual edit of a target file). This reuses
// robfig/cron for a genuinely periodic, calendar-driven job, distinct
// from the engine's own tick loop which is driven by the command pipe
// rather than a schedule.
func (e *Engine) StartHousekeeping(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := e.store.Recover(ctx); err != nil {
			level.Error(e.logger).Log("msg", "housekeeping: index rebuild failed", "err", err)
			return
		}
		level.Info(e.logger).Log("msg", "housekeeping: rebuilt indices from disk")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
