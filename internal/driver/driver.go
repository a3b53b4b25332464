// Package driver runs the slot pool under concurrent load: a fixed set of
// workers repeatedly borrow a Message slot, hold it, and give it back, while
// the driver checks that no slot is ever held by two workers at once.
//
// # Basic Usage
//
//	d, err := driver.New(config.Default(), driver.WithLogger(logger.Get()))
//	if err != nil {
//	    return err
//	}
//	report, err := d.Run(ctx)
//
// A run with the default configuration mirrors the reference scenario: a
// pool of 10 messages, 3 workers, 5 cycles each, 50ms hold time, and a 20ms
// backoff whenever the pool is exhausted.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/slotpool/pkg/config"
	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/logger"
	"github.com/ajitpratap0/slotpool/pkg/metrics"
	"github.com/ajitpratap0/slotpool/pkg/observability"
	"github.com/ajitpratap0/slotpool/pkg/performance"
	"github.com/ajitpratap0/slotpool/pkg/pool"
)

// Message is the value stored in each pool slot.
type Message struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics exports pool and hold metrics through collector.
func WithMetrics(collector *metrics.PoolCollector) Option {
	return func(d *Driver) { d.collector = collector }
}

// WithResourceMonitor samples process resources into the report.
func WithResourceMonitor(rm *performance.ResourceMonitor) Option {
	return func(d *Driver) { d.resources = rm }
}

// Driver owns one message pool and runs workers against it.
type Driver struct {
	cfg       *config.Config
	pool      *pool.Pool[Message]
	logger    *zap.Logger
	collector *metrics.PoolCollector
	resources *performance.ResourceMonitor
	latency   *metrics.LatencyTracker
	occupancy *occupancy

	// counters for the current run
	completed atomic.Int64
	skipped   atomic.Int64
	exhausted atomic.Int64
	retries   atomic.Int64
}

// New validates cfg and builds the pool the workers will share.
func New(cfg *config.Config, opts ...Option) (*Driver, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get()
	}

	poolOpts := []pool.Option{
		pool.WithName(cfg.Pool.Name),
		pool.WithLogger(d.logger),
	}
	if d.collector != nil {
		poolOpts = append(poolOpts, pool.WithMetrics(d.collector))
	}
	if cfg.Pool.LockFree {
		poolOpts = append(poolOpts, pool.WithLockFree())
	}

	p, err := pool.New[Message](cfg.Pool.Capacity, poolOpts...)
	if err != nil {
		return nil, err
	}
	d.pool = p
	return d, nil
}

// Pool returns the pool the workers borrow from.
func (d *Driver) Pool() *pool.Pool[Message] {
	return d.pool
}

// Run starts the configured workers, waits for all of them and returns the
// run report. An exhausted pool never fails a run; cycles that could not
// get a slot within the retry budget are counted as skipped. Run returns an
// error only when ctx is cancelled. Runs on the same Driver must not
// overlap.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.PoolKey, d.cfg.Pool.Name)

	d.reset()
	log := d.logger.With(logger.ContextFields(ctx)...)
	log.Info("starting run",
		zap.Int("capacity", d.pool.Capacity()),
		zap.Int("workers", d.cfg.Workers.Count),
		zap.Int("cycles", d.cfg.Workers.Cycles),
		zap.Bool("lock_free", d.cfg.Pool.LockFree))

	started := time.Now()
	workers := concpool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(d.cfg.Workers.Count)
	for w := 1; w <= d.cfg.Workers.Count; w++ {
		worker := w
		workers.Go(func(ctx context.Context) error {
			return d.work(logger.ContextWithWorker(ctx, worker), worker)
		})
	}
	err := workers.Wait()

	report := d.report(runID, started)
	log.Info("run finished",
		zap.Int64("completed", report.Completed),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("exhausted", report.ExhaustedAttempts),
		zap.Int64("overlaps", report.OverlapViolations),
		zap.Int("available_after", report.AvailableAfter),
		zap.Duration("elapsed", report.Elapsed))

	if err != nil {
		return report, fmt.Errorf("run %s interrupted: %w", runID, err)
	}
	return report, nil
}

func (d *Driver) reset() {
	d.completed.Store(0)
	d.skipped.Store(0)
	d.exhausted.Store(0)
	d.retries.Store(0)
	d.latency = metrics.NewLatencyTracker(d.cfg.Workers.Count * max(d.cfg.Workers.Cycles, 1))
	d.occupancy = newOccupancy()
}

func (d *Driver) work(ctx context.Context, worker int) error {
	log := d.logger.With(logger.ContextFields(ctx)...)
	for cycle := 0; cycle < d.cfg.Workers.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.cycle(ctx, log, worker, cycle); err != nil {
			return err
		}
	}
	log.Debug("worker done")
	return nil
}

// cycle performs one acquire, hold, release round. Exhaustion is absorbed
// here; only context errors are returned.
func (d *Driver) cycle(ctx context.Context, log *zap.Logger, worker, cycle int) (err error) {
	ctx, span := observability.NewSpan(ctx, "slotpool.cycle")
	span.SetAttribute("worker", worker)
	span.SetAttribute("cycle", cycle)
	defer func() { span.End(err) }()

	want := Message{ID: worker*1000 + cycle, Text: fmt.Sprintf("Hello from worker %d", worker)}

	h, err := d.acquire(ctx, log, want)
	if err != nil {
		if !poolerrors.IsType(err, poolerrors.ErrorTypeExhausted) {
			return err
		}
		d.skipped.Add(1)
		log.Info("pool exhausted, skipping cycle", zap.Int("cycle", cycle))
		return d.sleep(ctx, d.cfg.Workers.RetryInitial)
	}
	defer h.Reset()

	slot := h.Slot()
	span.SetAttribute("slot", slot)
	d.occupancy.bind(slot.Index(), worker)
	log.Info("acquired message",
		zap.Int("cycle", cycle),
		zap.Stringer("slot", slot),
		zap.String("text", h.Value().Text))

	timer := metrics.NewTimer("hold")
	sleepErr := d.sleep(ctx, d.cfg.Workers.Hold)
	if *h.Value() != want {
		d.occupancy.corrupted()
	}
	d.occupancy.unbind(slot.Index(), worker)
	held := timer.Stop()

	h.Reset()
	d.latency.Record(held)
	if d.collector != nil {
		d.collector.ObserveHold(d.cfg.Pool.Name, held)
	}
	if sleepErr != nil {
		return sleepErr
	}
	d.completed.Add(1)
	return nil
}

// acquire borrows a slot, retrying with exponential backoff up to
// MaxRetries times while the pool is exhausted.
func (d *Driver) acquire(ctx context.Context, log *zap.Logger, want Message) (*pool.Handle[Message], error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Workers.RetryInitial
	b.MaxInterval = d.cfg.Workers.RetryMax

	attempt := func() (*pool.Handle[Message], error) {
		h, ok := d.pool.AcquireHandle(func(m *Message) { *m = want })
		if !ok {
			d.exhausted.Add(1)
			return nil, poolerrors.Wrap(pool.ErrExhausted, poolerrors.ErrorTypeExhausted, "no free message slot")
		}
		return h, nil
	}

	h, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.Workers.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.retries.Add(1)
			log.Debug("retrying acquire",
				zap.Error(err),
				zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, pool.ErrExhausted) {
			return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeExhausted, "pool exhausted after retries").
				WithDetail("retries", d.cfg.Workers.MaxRetries)
		}
		return nil, err
	}
	return h, nil
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Driver) report(runID string, started time.Time) *Report {
	stats := d.pool.Stats()
	r := &Report{
		RunID:             runID,
		Pool:              d.cfg.Pool.Name,
		Capacity:          d.pool.Capacity(),
		LockFree:          d.cfg.Pool.LockFree,
		Workers:           d.cfg.Workers.Count,
		CyclesPerWorker:   d.cfg.Workers.Cycles,
		Completed:         d.completed.Load(),
		Skipped:           d.skipped.Load(),
		ExhaustedAttempts: d.exhausted.Load(),
		Retries:           d.retries.Load(),
		OverlapViolations: d.occupancy.violations(),
		DistinctSlots:     d.occupancy.distinct(),
		AvailableAfter:    d.pool.Available(),
		HoldP50:           d.latency.GetPercentile(50),
		HoldP99:           d.latency.GetPercentile(99),
		Stats:             stats,
		StartedAt:         started,
		Elapsed:           time.Since(started),
	}
	if d.resources != nil {
		r.Resources = d.resources.GetResourceUsage()
	}
	return r
}
