package driver

import (
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/slotpool/pkg/compression"
	"github.com/ajitpratap0/slotpool/pkg/fileguard"
	"github.com/ajitpratap0/slotpool/pkg/json"
	"github.com/ajitpratap0/slotpool/pkg/performance"
	"github.com/ajitpratap0/slotpool/pkg/pool"
)

// Report summarizes one driver run.
type Report struct {
	RunID           string `json:"run_id"`
	Pool            string `json:"pool"`
	Capacity        int    `json:"capacity"`
	LockFree        bool   `json:"lock_free"`
	Workers         int    `json:"workers"`
	CyclesPerWorker int    `json:"cycles_per_worker"`

	Completed         int64 `json:"completed"`
	Skipped           int64 `json:"skipped"`
	ExhaustedAttempts int64 `json:"exhausted_attempts"`
	Retries           int64 `json:"retries"`
	OverlapViolations int64 `json:"overlap_violations"`
	DistinctSlots     int   `json:"distinct_slots"`
	AvailableAfter    int   `json:"available_after"`

	HoldP50 time.Duration `json:"hold_p50_ns"`
	HoldP99 time.Duration `json:"hold_p99_ns"`

	Stats     pool.Stats                 `json:"stats"`
	Resources *performance.ResourceUsage `json:"resources,omitempty"`
	StartedAt time.Time                  `json:"started_at"`
	Elapsed   time.Duration              `json:"elapsed_ns"`
}

// Healthy reports whether the run upheld the pool guarantees: no slot was
// ever shared and every slot was back on the free-list afterwards.
func (r *Report) Healthy() bool {
	return r.OverlapViolations == 0 && r.AvailableAfter == r.Capacity
}

// WriteReport writes r as indented JSON to path, compressed with algo.
func WriteReport(path string, algo compression.Algorithm, r *Report) (err error) {
	g, err := fileguard.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := compression.NewWriter(g, algo, compression.Default)
	if err != nil {
		return fmt.Errorf("failed to open report encoder: %w", err)
	}
	if err := json.MarshalToWriter(w, r, true); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string, algo compression.Algorithm) (*Report, error) {
	g, err := fileguard.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	rd, err := compression.NewReader(g.File(), algo)
	if err != nil {
		return nil, fmt.Errorf("failed to open report decoder: %w", err)
	}
	defer rd.Close()

	var r Report
	if err := json.UnmarshalFromReader(rd, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
