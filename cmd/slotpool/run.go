package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/slotpool/internal/driver"
	"github.com/ajitpratap0/slotpool/pkg/config"
	"github.com/ajitpratap0/slotpool/pkg/fileguard"
	"github.com/ajitpratap0/slotpool/pkg/logger"
	"github.com/ajitpratap0/slotpool/pkg/metrics"
	"github.com/ajitpratap0/slotpool/pkg/observability"
	"github.com/ajitpratap0/slotpool/pkg/performance"
)

// runOptions are settings of a single invocation that do not belong in the
// configuration file.
type runOptions struct {
	Timeout    time.Duration
	CPUProfile string
	MemProfile string
}

func newRunCommand() *cobra.Command {
	var configFile string
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run workers against a message pool",
		Long: `Run starts the configured number of workers. Each worker performs its cycles of
acquire, hold and release against one shared pool, backing off when the pool is exhausted.

Example:
  slotpool run --capacity 2 --workers 4 --max-retries 3 --report run.json.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return runDriver(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	addConfigFlags(runCmd.Flags(), &configFile)
	runCmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	runCmd.Flags().StringVar(&opts.CPUProfile, "cpuprofile", "", "Write CPU profile to file")
	runCmd.Flags().StringVar(&opts.MemProfile, "memprofile", "", "Write memory profile to file")

	return runCmd
}

func runDriver(ctx context.Context, out io.Writer, cfg *config.Config, opts runOptions) error {
	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(
		zap.String("component", "slotpool-cli"),
		zap.String("pool", cfg.Pool.Name))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "slotpool",
			ServiceVersion: version,
			SamplingRate:   cfg.Observability.TracingSampleRate,
			Writer:         out,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	driverOpts := []driver.Option{driver.WithLogger(logger.Get())}

	if cfg.Observability.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		driverOpts = append(driverOpts, driver.WithMetrics(metrics.NewPoolCollector(reg)))

		srv := serveMetrics(cfg.Observability.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if rm, err := performance.NewResourceMonitor(); err != nil {
		log.Warn("resource sampling disabled", zap.Error(err))
	} else {
		driverOpts = append(driverOpts, driver.WithResourceMonitor(rm))
	}

	if opts.CPUProfile != "" {
		stopProfile, err := startCPUProfile(opts.CPUProfile)
		if err != nil {
			return err
		}
		defer stopProfile()
	}

	d, err := driver.New(cfg, driverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}

	report, runErr := d.Run(ctx)
	printSummary(out, report)

	if opts.MemProfile != "" {
		if err := writeHeapProfile(opts.MemProfile); err != nil {
			log.Warn("failed to write memory profile", zap.Error(err))
		}
	}

	if cfg.Report.Path != "" {
		if err := driver.WriteReport(cfg.Report.Path, cfg.Report.ReportCompression(), report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Info("report written", zap.String("path", cfg.Report.Path))
	}

	if runErr != nil {
		return runErr
	}
	if !report.Healthy() {
		return fmt.Errorf("pool invariants violated: %d overlaps, %d of %d slots available after run",
			report.OverlapViolations, report.AvailableAfter, report.Capacity)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func startCPUProfile(path string) (func(), error) {
	g, err := fileguard.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(g.File()); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = g.Close()
	}, nil
}

func writeHeapProfile(path string) error {
	g, err := fileguard.Create(path)
	if err != nil {
		return err
	}
	defer g.Close()

	if err := pprof.WriteHeapProfile(g.File()); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, r *driver.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "\nRun %s\n", r.RunID)
	fmt.Fprintf(w, "  pool:               %s (capacity %d, lock-free %t)\n", r.Pool, r.Capacity, r.LockFree)
	fmt.Fprintf(w, "  workers x cycles:   %d x %d\n", r.Workers, r.CyclesPerWorker)
	fmt.Fprintf(w, "  completed:          %d\n", r.Completed)
	fmt.Fprintf(w, "  skipped:            %d\n", r.Skipped)
	fmt.Fprintf(w, "  exhausted attempts: %d (retries %d)\n", r.ExhaustedAttempts, r.Retries)
	fmt.Fprintf(w, "  distinct slots:     %d\n", r.DistinctSlots)
	fmt.Fprintf(w, "  overlap violations: %d\n", r.OverlapViolations)
	fmt.Fprintf(w, "  available after:    %d/%d\n", r.AvailableAfter, r.Capacity)
	fmt.Fprintf(w, "  hold p50/p99:       %v / %v\n", r.HoldP50, r.HoldP99)
	fmt.Fprintf(w, "  elapsed:            %v\n", r.Elapsed.Round(time.Millisecond))
	if r.Resources != nil {
		fmt.Fprintf(w, "  rss:                %.1f MiB\n", float64(r.Resources.MemoryRSS)/(1<<20))
	}
}
