package driver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/slotpool/pkg/compression"
	"github.com/ajitpratap0/slotpool/pkg/config"
	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/metrics"
	"github.com/ajitpratap0/slotpool/pkg/performance"
	"github.com/ajitpratap0/slotpool/pkg/testutil"
)

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Workers.Hold = 5 * time.Millisecond
	cfg.Workers.RetryInitial = time.Millisecond
	cfg.Workers.RetryMax = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func newTestDriver(t *testing.T, cfg *config.Config, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.TestLogger(t))}, opts...)
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	return d
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pool.Capacity = 0

	d, err := New(cfg)
	assert.Nil(t, d)
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
}

func TestRun_ReferenceScenario(t *testing.T) {
	for _, lockFree := range []bool{false, true} {
		t.Run(map[bool]string{false: "locked", true: "lock-free"}[lockFree], func(t *testing.T) {
			d := newTestDriver(t, testConfig(func(c *config.Config) { c.Pool.LockFree = lockFree }))

			report, err := d.Run(testutil.TestContext(t))
			require.NoError(t, err)

			assert.Equal(t, int64(15), report.Completed)
			assert.Zero(t, report.Skipped)
			assert.Zero(t, report.ExhaustedAttempts, "3 workers never exhaust 10 slots")
			assert.Zero(t, report.OverlapViolations)
			assert.Equal(t, 10, report.AvailableAfter)
			assert.True(t, report.Healthy())
			assert.GreaterOrEqual(t, report.DistinctSlots, 1)
			assert.LessOrEqual(t, report.DistinctSlots, 3, "LIFO reuse keeps at most one slot per worker busy")
			assert.Equal(t, int64(15), report.Stats.Acquired)
			assert.Equal(t, int64(15), report.Stats.Released)
			assert.GreaterOrEqual(t, report.HoldP50, 5*time.Millisecond)
			assert.NotEmpty(t, report.RunID)
			assert.Equal(t, lockFree, report.LockFree)
		})
	}
}

func TestRun_ContentionWithoutRetries(t *testing.T) {
	d := newTestDriver(t, testConfig(func(c *config.Config) {
		c.Pool.Capacity = 1
		c.Workers.Count = 4
		c.Workers.Cycles = 3
		c.Workers.Hold = 10 * time.Millisecond
	}))

	report, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, int64(12), report.Completed+report.Skipped)
	assert.Positive(t, report.Completed)
	assert.Equal(t, report.Skipped, report.ExhaustedAttempts, "each exhausted attempt skips its cycle")
	assert.Equal(t, report.ExhaustedAttempts, report.Stats.Exhausted)
	assert.Zero(t, report.Retries)
	assert.Zero(t, report.OverlapViolations)
	assert.Equal(t, 1, report.AvailableAfter)
	assert.Equal(t, 1, report.DistinctSlots)
}

func TestRun_RetriesUntilSlotFrees(t *testing.T) {
	d := newTestDriver(t, testConfig(func(c *config.Config) {
		c.Pool.Capacity = 1
		c.Workers.Count = 2
		c.Workers.Cycles = 2
		c.Workers.MaxRetries = 50
	}))

	report, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.Completed)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, report.ExhaustedAttempts, report.Retries)
	assert.Zero(t, report.OverlapViolations)
	assert.True(t, report.Healthy())
}

func TestRun_Cancelled(t *testing.T) {
	d := newTestDriver(t, testConfig(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := d.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 10, report.AvailableAfter, "cancelled workers release their slots")
}

func TestRun_CancelDuringHold(t *testing.T) {
	d := newTestDriver(t, testConfig(func(c *config.Config) {
		c.Workers.Hold = time.Minute
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := d.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, report.Completed)
	assert.Equal(t, 10, report.AvailableAfter)
}

func TestRun_Repeatable(t *testing.T) {
	d := newTestDriver(t, testConfig(func(c *config.Config) { c.Workers.Cycles = 1 }))

	first, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)
	second, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, int64(3), first.Completed)
	assert.Equal(t, int64(3), second.Completed, "counters reset between runs")
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, int64(6), second.Stats.Acquired, "pool stats are cumulative")
}

func TestRun_MetricsAndResources(t *testing.T) {
	reg := prometheus.NewRegistry()
	rm, err := performance.NewResourceMonitor()
	require.NoError(t, err)

	d := newTestDriver(t, testConfig(nil),
		WithMetrics(metrics.NewPoolCollector(reg)),
		WithResourceMonitor(rm))

	report, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NotNil(t, report.Resources)
	assert.Positive(t, report.Resources.GoroutineCount)

	count, err := promtestutil.GatherAndCount(reg, "slotpool_hold_duration_seconds", "slotpool_acquired_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReportRoundTrip(t *testing.T) {
	d := newTestDriver(t, testConfig(func(c *config.Config) { c.Workers.Cycles = 1 }))
	report, err := d.Run(testutil.TestContext(t))
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"report.json", "report.json.gz", "report.json.zst", "report.json.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			algo := compression.ForPath(path)

			require.NoError(t, WriteReport(path, algo, report))

			loaded, err := ReadReport(path, algo)
			require.NoError(t, err)
			assert.Equal(t, report.RunID, loaded.RunID)
			assert.Equal(t, report.Completed, loaded.Completed)
			assert.Equal(t, report.Stats, loaded.Stats)
			assert.Equal(t, report.HoldP99, loaded.HoldP99)
			assert.True(t, loaded.Healthy())
		})
	}
}

func TestWriteReport_BadPath(t *testing.T) {
	err := WriteReport(filepath.Join(t.TempDir(), "missing", "r.json"), compression.None, &Report{})
	require.Error(t, err)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeFile))
}

func TestOccupancy(t *testing.T) {
	o := newOccupancy()

	o.bind(0, 1)
	o.bind(1, 2)
	assert.Zero(t, o.violations())

	o.bind(0, 3)
	assert.Equal(t, int64(1), o.violations())

	o.unbind(0, 1)
	o.unbind(0, 3)
	o.bind(0, 1)
	assert.Equal(t, int64(1), o.violations())

	o.corrupted()
	assert.Equal(t, int64(2), o.violations())
	assert.Equal(t, 2, o.distinct())
}
