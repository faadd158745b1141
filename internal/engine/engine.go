// Package engine implements the single-writer scheduler loop: one tick is
// discovery (load active/passive targets), classification (decide which
// targets have work due), and application (submit that work to a bounded
// pool of backend calls). It also owns the command pipe (step/kill/
// restart/pause/resume) that drives ticks and mutates targets out of band.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"

	"cirrusflow/internal/backend"
	"cirrusflow/internal/host"
	"cirrusflow/internal/logging"
	"cirrusflow/internal/metrics"
	"cirrusflow/internal/store"
	"cirrusflow/internal/target"
)

// Config bundles the concurrency model's tunables: pool sizes and
// per-operation deadlines. It is a plain value, not a process singleton.
type Config struct {
	WorkerPoolSize   int           // total concurrent backend calls, default 64
	PerHostPoolSize  int           // concurrent calls per host, default 16
	StartDeadline    time.Duration // default 300s
	UpdateDeadline   time.Duration // default 60s
	PerHostSessions  int           // concurrent sessions per host, default 8
	BackoffBase      time.Duration // default 1s
	BackoffFactor    float64       // default 2
	BackoffCap       time.Duration // default 5m
	BackoffJitter    float64       // fraction, default 0.2

	SubmitRate  rate.Limit // per-host backend.start submissions/sec, default 2
	SubmitBurst int        // per-host submission burst, default 4
}

// DefaultConfig returns the concurrency model's stated defaults.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:  64,
		PerHostPoolSize: 16,
		StartDeadline:   300 * time.Second,
		UpdateDeadline:  60 * time.Second,
		PerHostSessions: 8,
		BackoffBase:     time.Second,
		BackoffFactor:   2,
		BackoffCap:      5 * time.Minute,
		BackoffJitter:   0.2,
		SubmitRate:      2,
		SubmitBurst:     4,
	}
}

// HostOf resolves which Host a target's work should run on. In this
// module a target only records a backend name in its BuildProcess; the
// engine is handed this function by its caller and applies it to every
// target, since target.Target intentionally carries no Host reference
// (hosts are an engine-level wiring concern, not part of the durable
// target record).
type HostOf func(t *target.Target) host.Host

// Engine owns the store, the backend registry, and the worker pool, and
// drives ticks either on a timer or on demand via the command pipe.
type Engine struct {
	store    *store.Store
	backends *backend.Registry
	hostOf   HostOf
	cfg      Config
	logger   logging.Logger
	metrics  *metrics.Metrics

	pauseMu sync.Mutex
	paused  bool

	attempts   map[string]int // targetID -> backoff attempt count, reset on success
	attemptsMu sync.Mutex

	limiters   map[string]*rate.Limiter // host name -> submission rate limiter
	limitersMu sync.Mutex
}

// New constructs an Engine against an already-opened store.
func New(st *store.Store, backends *backend.Registry, hostOf HostOf, cfg Config, logger logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    st,
		backends: backends,
		hostOf:   hostOf,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		attempts: make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
	}
}

// submitLimiterFor returns the per-host submission rate limiter, creating
// one lazily on first use.
func (e *Engine) submitLimiterFor(hostName string) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	l, ok := e.limiters[hostName]
	if !ok {
		l = rate.NewLimiter(e.cfg.SubmitRate, e.cfg.SubmitBurst)
		e.limiters[hostName] = l
	}
	return l
}

// Pause and Resume gate Step: a paused engine's Step is a no-op that
// still returns promptly, so a caller polling on a timer does not need to
// know the engine is paused.
func (e *Engine) Pause()  { e.pauseMu.Lock(); e.paused = true; e.pauseMu.Unlock() }
func (e *Engine) Resume() { e.pauseMu.Lock(); e.paused = false; e.pauseMu.Unlock() }

func (e *Engine) isPaused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

// Step runs exactly one tick: discovery, classification, application.
// It is safe to call concurrently with itself (the store's per-id locks
// serialize any overlapping work on the same target), but the command
// pipe and the periodic timer are expected to share one single-writer
// call site in practice, matching the "single-writer engine loop" design.
func (e *Engine) Step(ctx context.Context) error {
	if e.isPaused() {
		return nil
	}
	start := time.Now()
	defer func() {
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	work, err := e.discover(ctx)
	if err != nil {
		return fmt.Errorf("engine: discover: %w", err)
	}

	units := e.classify(ctx, work)
	e.metrics.TargetsAdvanced.Add(float64(len(units)))

	return e.apply(ctx, units)
}

// discoveredWork is the snapshot a tick classifies: every active target
// (has in-flight or pollable work) and every passive target (a candidate
// for activation via its own success_triggers bookkeeping elsewhere).
type discoveredWork struct {
	active  []*target.Target
	passive []*target.Target
}

func (e *Engine) discover(ctx context.Context) (discoveredWork, error) {
	phaseStart := time.Now()
	defer func() { e.metrics.PhaseDuration.WithLabelValues("discover").Observe(time.Since(phaseStart).Seconds()) }()

	var work discoveredWork
	for _, id := range e.store.ActiveIDs() {
		t, err := e.store.Get(ctx, id)
		if err != nil {
			level.Warn(e.logger).Log("msg", "discover: failed to load active target", "id", id, "err", err)
			continue
		}
		work.active = append(work.active, t)
	}
	for _, id := range e.store.PassiveIDs() {
		t, err := e.store.Get(ctx, id)
		if err != nil {
			level.Warn(e.logger).Log("msg", "discover: failed to load passive target", "id", id, "err", err)
			continue
		}
		work.passive = append(work.passive, t)
	}
	return work, nil
}

// unit is one piece of work the application phase submits to the worker
// pool: a target plus which backend verb to invoke on it.
type unit struct {
	target *target.Target
	verb   verb
}

type verb string

const (
	verbStart  verb = "start"
	verbUpdate verb = "update"
)

// classify decides, for every active target discovered this tick, whether
// it needs backend.start (just entered Tried_to_start / due for a
// backoff retry) or backend.update (already Started_running or
// Still_building). Passive targets with no due dependency action are
// left untouched here; activation itself is driven by the command pipe's
// "activate" operation and by success_triggers fired during apply.
//
// An Active target is additionally gated on depends_on: it is only
// scheduled (or completed directly) once every dependency is Successful;
// a failed-family dependency kills it on the spot instead, and an Active
// target with dependencies still in flight is left untouched this tick.
// See classifyActive.
func (e *Engine) classify(ctx context.Context, work discoveredWork) []unit {
	phaseStart := time.Now()
	defer func() { e.metrics.PhaseDuration.WithLabelValues("classify").Observe(time.Since(phaseStart).Seconds()) }()

	var units []unit
	for _, t := range work.active {
		switch t.State() {
		case target.Active:
			u, err := e.classifyActive(ctx, t)
			if err != nil {
				level.Warn(e.logger).Log("msg", "classify: dependency check failed", "id", t.ID, "err", err)
				continue
			}
			if u != nil {
				units = append(units, *u)
			}
		case target.TriedToStart:
			if e.dueForRetry(t) {
				units = append(units, unit{target: t, verb: verbStart})
			}
		case target.StartedRunning, target.StillBuilding, target.StillVerifyingSuccess:
			units = append(units, unit{target: t, verb: verbUpdate})
		}
	}
	return units
}

// classifyActive applies the three-way depends_on branch to one Active
// target: if any dependency is in IsFailedFamily, t is driven straight to
// Dead_because_of_dependencies (the build_process must never start); if
// every dependency is Successful (or there are none), t is handed to
// readyToStart; otherwise some dependency is still in progress and t is
// left alone for this tick. A returned nil unit with a nil error means "no
// work this tick", not an error.
func (e *Engine) classifyActive(ctx context.Context, t *target.Target) (*unit, error) {
	allSuccessful := true
	for _, depID := range t.DependsOn {
		dep, err := e.store.Get(ctx, depID)
		if err != nil {
			return nil, err
		}
		if target.IsFailedFamily(dep.State()) {
			return nil, e.markDependencyDead(ctx, t, depID)
		}
		if dep.State() != target.Successful {
			allSuccessful = false
		}
	}
	if !allSuccessful {
		return nil, nil
	}
	return e.readyToStart(ctx, t)
}

// readyToStart runs once a target's dependencies have all succeeded (or it
// has none): an equivalence pointer means another target is doing this
// work instead, so there is nothing to schedule. A no_operation
// build_process has no backend to call, so its condition (absent treated
// as true) is its entire verdict: holds means Successful, fails means
// Failed, there is no "start" to retry. Everything else gets the ALREADY_DONE
// skip-check (folded in here so it also covers a target that was Active
// before its dependencies finished, not only one whose condition already
// held at activation time) and otherwise goes to applyOne via verbStart.
func (e *Engine) readyToStart(ctx context.Context, t *target.Target) (*unit, error) {
	if t.PointerTo != "" {
		return nil, nil
	}
	if t.BuildProcess.Kind == target.NoOperation {
		ok, err := t.Condition.Holds(ctx, asConditionRunner(e.hostOf(t)))
		if err != nil {
			return nil, e.markFailed(ctx, t, "no_operation condition: "+err.Error())
		}
		if ok {
			return nil, e.markSuccessful(ctx, t, "no_operation build_process has nothing to run")
		}
		return nil, e.markFailed(ctx, t, "no_operation condition did not hold")
	}
	if t.Condition != nil {
		ok, err := t.Condition.Holds(ctx, asConditionRunner(e.hostOf(t)))
		if err == nil && ok {
			return nil, e.markSuccessful(ctx, t, "condition already satisfied")
		}
	}
	return &unit{target: t, verb: verbStart}, nil
}

func (e *Engine) markDependencyDead(ctx context.Context, t *target.Target, blockingDep string) error {
	expectedLen := len(t.History)
	if err := t.MarkDependencyDead(time.Now(), blockingDep); err != nil {
		return err
	}
	return e.store.CompareAndSwap(ctx, t, expectedLen)
}

func (e *Engine) markSuccessful(ctx context.Context, t *target.Target, reason string) error {
	expectedLen := len(t.History)
	if err := t.Transition(time.Now(), target.Successful, reason); err != nil {
		return err
	}
	return e.store.CompareAndSwap(ctx, t, expectedLen)
}

func (e *Engine) markFailed(ctx context.Context, t *target.Target, reason string) error {
	expectedLen := len(t.History)
	if err := t.Transition(time.Now(), target.Failed, reason); err != nil {
		return err
	}
	return e.store.CompareAndSwap(ctx, t, expectedLen)
}

// dueForRetry applies exponential backoff with jitter to a target that is
// mid-retry in Tried_to_start: attempt 0 fires immediately, attempt N
// waits base*factor^(N-1) capped at cap, jittered by +/-jitterFraction.
func (e *Engine) dueForRetry(t *target.Target) bool {
	e.attemptsMu.Lock()
	attempt := e.attempts[t.ID]
	e.attemptsMu.Unlock()
	if attempt == 0 {
		return true
	}
	delay := jitteredDelay(e.cfg, attempt, rand.Float64)
	lastAt := t.History[len(t.History)-1].Timestamp
	return time.Since(lastAt) >= delay
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= cfg.BackoffFactor
	}
	if cap := float64(cfg.BackoffCap); d > cap {
		d = cap
	}
	return time.Duration(d)
}

// jitter is split out of backoffDelay so retry-timing tests can assert on
// the unjittered base sequence; actual scheduling calls jitteredDelay.
func jitteredDelay(cfg Config, attempt int, rand func() float64) time.Duration {
	base := backoffDelay(cfg, attempt)
	spread := float64(base) * cfg.BackoffJitter
	offset := (rand()*2 - 1) * spread
	return time.Duration(float64(base) + offset)
}
