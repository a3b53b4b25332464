// Package slotpool provides a fixed-capacity, thread-safe object pool whose
// slots are handed out through move-only handles, together with a
// contention driver that exercises the pool from concurrent workers.
//
// Slotpool is built around three guarantees:
//   - No allocation after construction: every slot is created by pool.New
//   - No silent sharing: a slot has at most one owner at any instant
//   - No leaks: a released or reset handle always returns its slot
//
// # Architecture
//
// A pool.Pool[T] owns N slots and a LIFO free-list of free indices. Each
// slot carries a generation counter; acquiring and releasing bump it, so a
// stale pool.SlotID is refused instead of releasing the next occupant.
//
// A pool.Handle[T] owns exactly one occupied slot. Move transfers ownership
// and leaves the source empty; Reset releases the slot and is idempotent.
//
// # Quick Start
//
//	import "github.com/ajitpratap0/slotpool/pkg/pool"
//
//	type Message struct {
//	    ID   int
//	    Text string
//	}
//
//	p, err := pool.New[Message](10, pool.WithName("messages"))
//	if err != nil {
//	    return err
//	}
//
//	h, ok := p.AcquireHandle(func(m *Message) {
//	    m.ID, m.Text = 1, "Hello from worker 1"
//	})
//	if !ok {
//	    // pool exhausted, retry later
//	}
//	defer h.Reset()
//
// # Key Packages
//
//	pkg/pool          - Fixed-capacity slot pool and move-only handles
//	pkg/lockfree      - Tagged lock-free index stack used as free-list
//	pkg/config        - YAML/env/flag configuration
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus pool collector
//	pkg/observability - OpenTelemetry tracing
//	internal/driver   - Concurrent contention driver and run reports
//
// # Command Line
//
// The slotpool binary runs the driver and inspects its reports:
//
//	slotpool run --capacity 10 --workers 3 --cycles 5 --report run.json.zst
//	slotpool inspect run.json.zst
//	slotpool config -o slotpool.yaml
//
// Environment variables use the SLOTPOOL_ prefix, for example
// SLOTPOOL_POOL_CAPACITY=4.
package slotpool
