package engine

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/oklog/run"

	"cirrusflow/internal/backend"
	"cirrusflow/internal/host"
	"cirrusflow/internal/target"
)

// apply submits every unit to the bounded worker pool and waits for all of
// them to finish. Units are grouped by host name so the per-host
// concurrency cap (cfg.PerHostPoolSize) is enforced independently of the
// global cap (cfg.WorkerPoolSize).
func (e *Engine) apply(ctx context.Context, units []unit) error {
	phaseStart := time.Now()
	defer func() { e.metrics.PhaseDuration.WithLabelValues("apply").Observe(time.Since(phaseStart).Seconds()) }()

	if len(units) == 0 {
		return nil
	}

	global := make(chan struct{}, e.cfg.WorkerPoolSize)
	perHost := make(map[string]chan struct{})
	for _, u := range units {
		h := e.hostOf(u.target)
		if _, ok := perHost[h.Name()]; !ok {
			perHost[h.Name()] = make(chan struct{}, e.cfg.PerHostPoolSize)
		}
	}

	var g run.Group
	ctx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		return e.runUnits(ctx, units, global, perHost)
	}, func(error) {
		cancel()
	})
	return g.Run()
}

// runUnits dispatches each unit onto a goroutine gated by both the global
// and per-host semaphores, and collects the first error (if any) after
// every unit has finished — a single failing backend call should not
// abort the rest of the tick's work.
func (e *Engine) runUnits(ctx context.Context, units []unit, global chan struct{}, perHost map[string]chan struct{}) error {
	done := make(chan error, len(units))
	for _, u := range units {
		u := u
		hostSem := perHost[e.hostOf(u.target).Name()]
		go func() {
			select {
			case global <- struct{}{}:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
			defer func() { <-global }()

			select {
			case hostSem <- struct{}{}:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
			defer func() { <-hostSem }()

			done <- e.applyOne(ctx, u)
		}()
	}

	var firstErr error
	for range units {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// applyOne invokes the backend verb for one unit and persists the
// resulting state transition via compare-and-swap, discarding the result
// if the stored record has moved on (e.g. a concurrent kill) since
// discovery read it.
func (e *Engine) applyOne(ctx context.Context, u unit) error {
	b, ok := e.backends.Get(u.target.BuildProcess.Backend)
	if !ok {
		level.Error(e.logger).Log("msg", "applyOne: unknown backend", "id", u.target.ID, "backend", u.target.BuildProcess.Backend)
		return nil
	}
	h := e.hostOf(u.target)

	switch u.verb {
	case verbStart:
		return e.applyStart(ctx, u.target, b, h)
	case verbUpdate:
		return e.applyUpdate(ctx, u.target, b, h)
	default:
		return nil
	}
}

func (e *Engine) applyStart(ctx context.Context, t *target.Target, b backend.Backend, h host.Host) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StartDeadline)
	defer cancel()

	current, err := e.store.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.State() != target.Active && current.State() != target.TriedToStart {
		return nil // raced with a kill/external change; nothing to do
	}
	expectedLen := len(current.History)

	if current.State() == target.Active {
		if err := current.BeginStart(time.Now()); err != nil {
			return err
		}
	}

	if err := e.submitLimiterFor(h.Name()).Wait(ctx); err != nil {
		return err
	}
	outcome, err := b.Start(ctx, current.BuildProcess.RunParameters, h)
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case backend.StartOK:
		current.BuildProcess.RunParameters = outcome.RunParameters
		if err := current.StartSucceeded(time.Now()); err != nil {
			return err
		}
		e.resetAttempts(t.ID)
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "start", "ok").Inc()
	case backend.StartRecoverable:
		e.bumpAttempts(t.ID)
		e.metrics.Retries.WithLabelValues(b.Name()).Inc()
		if err := current.RetryStart(time.Now()); err != nil {
			return err
		}
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "start", "recoverable").Inc()
	case backend.StartFatal:
		if err := current.StartFailedFatally(time.Now(), outcome.Reason); err != nil {
			return err
		}
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "start", "fatal").Inc()
	}

	return e.store.CompareAndSwap(ctx, current, expectedLen)
}

func (e *Engine) applyUpdate(ctx context.Context, t *target.Target, b backend.Backend, h host.Host) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.UpdateDeadline)
	defer cancel()

	current, err := e.store.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if target.IsTerminal(current.State()) {
		return nil
	}
	expectedLen := len(current.History)

	outcome, err := b.Update(ctx, current.BuildProcess.RunParameters, h)
	if err != nil {
		return err
	}
	if outcome.RunParameters != nil {
		current.BuildProcess.RunParameters = outcome.RunParameters
	}

	switch outcome.Kind {
	case backend.UpdateStillRunning:
		switch current.State() {
		case target.StartedRunning, target.StillBuilding:
			if err := current.PollStillRunning(time.Now()); err != nil {
				return err
			}
		}
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "update", "still_running").Inc()
	case backend.UpdateSucceeded:
		if err := e.advanceToVerification(ctx, current, h); err != nil {
			return err
		}
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "update", "succeeded").Inc()
	case backend.UpdateFailed:
		if err := current.PollFailed(time.Now(), outcome.Reason); err != nil {
			return err
		}
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "update", "failed").Inc()
	case backend.UpdateUnknown:
		// Treated as recoverable: leave state untouched, try again next tick.
		e.metrics.BackendCalls.WithLabelValues(b.Name(), "update", "unknown").Inc()
	}

	return e.store.CompareAndSwap(ctx, current, expectedLen)
}

// advanceToVerification drives Started_running/Still_building to
// Still_verifying_success and evaluates the target's condition against h
// as the post-run success check.
func (e *Engine) advanceToVerification(ctx context.Context, t *target.Target, h host.Host) error {
	if t.State() == target.StartedRunning {
		if err := t.PollStillRunning(time.Now()); err != nil {
			return err
		}
	}
	if err := t.PollCompleted(time.Now()); err != nil {
		return err
	}
	ok, err := t.Condition.Holds(ctx, asConditionRunner(h))
	if err != nil {
		return t.VerifyFailed(time.Now(), err.Error())
	}
	if ok {
		return t.VerifySucceeded(time.Now())
	}
	return t.VerifyFailed(time.Now(), "post-run condition did not hold")
}

func (e *Engine) resetAttempts(id string) {
	e.attemptsMu.Lock()
	delete(e.attempts, id)
	e.attemptsMu.Unlock()
}

func (e *Engine) bumpAttempts(id string) {
	e.attemptsMu.Lock()
	e.attempts[id]++
	e.attemptsMu.Unlock()
}

// killTarget fires backend.Kill on t's currently-known run_parameters, then
// transitions it to Killed regardless of whether the kill call itself
// errored — the caller has already decided the target should stop, and a
// best-effort kill matches "kill is idempotent, not guaranteed delivered."
func (e *Engine) killTarget(ctx context.Context, id string) error {
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if target.IsTerminal(current.State()) {
		return nil
	}
	expectedLen := len(current.History)

	if b, ok := e.backends.Get(current.BuildProcess.Backend); ok && current.BuildProcess.RunParameters != nil {
		h := e.hostOf(current)
		if err := b.Kill(ctx, current.BuildProcess.RunParameters, h); err != nil {
			level.Warn(e.logger).Log("msg", "kill: backend kill failed, proceeding anyway", "id", id, "err", err)
		}
	}
	if current.State() == target.Passive {
		if err := current.KillFromPassive(time.Now()); err != nil {
			return err
		}
	} else if err := current.Kill(time.Now()); err != nil {
		return err
	}
	return e.store.CompareAndSwap(ctx, current, expectedLen)
}
