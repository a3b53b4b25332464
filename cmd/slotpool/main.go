package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ajitpratap0/slotpool/pkg/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "slotpool",
		Short: "slotpool - fixed-capacity object pool driver",
		Long: `slotpool drives a fixed-capacity, thread-safe object pool with concurrent workers.
Each worker borrows a message slot, holds it, and gives it back; the run report shows
whether any slot was ever shared and whether every slot returned to the free-list.`,
		SilenceUsage: true,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "slotpool v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newInspectCommand())

	return root
}

// addConfigFlags registers the flags that override configuration keys. Their
// defaults mirror config.Default so help output shows effective values.
func addConfigFlags(flags *pflag.FlagSet, configFile *string) {
	d := config.Default()

	flags.StringVarP(configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	flags.String("name", d.Pool.Name, "Pool name used in logs and metrics")
	flags.Int("capacity", d.Pool.Capacity, "Number of slots in the pool")
	flags.Bool("lock-free", d.Pool.LockFree, "Use the CAS free-list instead of the mutex one")
	flags.Int("workers", d.Workers.Count, "Number of concurrent workers")
	flags.Int("cycles", d.Workers.Cycles, "Acquire/use/release cycles per worker")
	flags.Duration("hold", d.Workers.Hold, "How long a worker keeps its slot")
	flags.Duration("retry-initial", d.Workers.RetryInitial, "First backoff after the pool is exhausted")
	flags.Duration("retry-max", d.Workers.RetryMax, "Maximum backoff interval")
	flags.Int("max-retries", d.Workers.MaxRetries, "Retries after an exhausted acquire before the cycle is skipped")
	flags.String("log-level", d.Logging.Level, "Log level (debug, info, warn, error)")
	flags.String("log-encoding", d.Logging.Encoding, "Log encoding (json, console)")
	flags.Bool("metrics", d.Observability.EnableMetrics, "Serve Prometheus metrics")
	flags.String("metrics-addr", d.Observability.MetricsAddr, "Listen address for /metrics")
	flags.Bool("tracing", d.Observability.EnableTracing, "Export one span per cycle to stdout")
	flags.String("report", d.Report.Path, "Write the run report to this path (.gz, .zst, .lz4, .sz, .s2 compress)")
	flags.String("report-codec", d.Report.Compression, "Override report compression (none, gzip, zstd, lz4, snappy, s2)")
}
