package pool

import (
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/metrics"
)

type message struct {
	ID   int
	Text string
}

// modes runs a test against both free-list implementations.
var modes = []struct {
	name string
	opts []Option
}{
	{"locked", nil},
	{"lock-free", []Option{WithLockFree()}},
}

func newTestPool(t *testing.T, capacity int, opts ...Option) *Pool[message] {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	p, err := New[message](capacity, opts...)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("rejects non-positive capacity", func(t *testing.T) {
		for _, capacity := range []int{0, -1} {
			p, err := New[message](capacity)
			assert.Nil(t, p)
			require.Error(t, err)
			assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeValidation))
		}
	})

	t.Run("rejects mismatched destructor", func(t *testing.T) {
		_, err := New[message](1, WithDestructor(func(*int) {}))
		require.Error(t, err)
		assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeValidation))
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := New[message](3)
		require.NoError(t, err)
		assert.Equal(t, "default", p.Name())
		assert.Equal(t, 3, p.Capacity())
		assert.Equal(t, 3, p.Available())
	})

	t.Run("MustNew panics", func(t *testing.T) {
		assert.Panics(t, func() { MustNew[message](0) })
	})
}

func TestAcquireHandle_Exhaustion(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			const capacity = 4
			p := newTestPool(t, capacity, mode.opts...)

			handles := make([]*Handle[message], 0, capacity)
			for i := 0; i < capacity; i++ {
				h, ok := p.AcquireHandle(nil)
				require.True(t, ok, "acquire %d should succeed", i)
				handles = append(handles, h)
				assert.Equal(t, capacity-len(handles), p.Available())
			}

			h, ok := p.AcquireHandle(nil)
			assert.False(t, ok)
			assert.Nil(t, h)
			assert.Equal(t, int64(1), p.Stats().Exhausted)

			for _, h := range handles {
				h.Reset()
			}
			assert.Equal(t, capacity, p.Available())
		})
	}
}

func TestAcquireHandle_Constructs(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 2, mode.opts...)

			h, ok := p.AcquireHandle(func(m *message) {
				m.ID = 42
				m.Text = "hello"
			})
			require.True(t, ok)
			defer h.Reset()

			assert.Equal(t, message{ID: 42, Text: "hello"}, *h.Value())
		})
	}
}

func TestAcquire_DefaultConstructs(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 1, mode.opts...)

			id, m, ok := p.Acquire()
			require.True(t, ok)
			m.ID = 9
			m.Text = "dirty"
			require.True(t, p.Release(id))

			id, m, ok = p.Acquire()
			require.True(t, ok)
			assert.Equal(t, message{}, *m, "reused slot must hold a fresh zero value")
			assert.True(t, p.Release(id))
		})
	}
}

func TestLIFOReuse(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 3, mode.opts...)

			a, _ := p.AcquireHandle(nil)
			b, _ := p.AcquireHandle(nil)
			assert.Equal(t, 0, a.Slot().Index(), "first acquire takes slot 0")
			assert.Equal(t, 1, b.Slot().Index())

			released := a.Slot().Index()
			a.Reset()

			c, ok := p.AcquireHandle(nil)
			require.True(t, ok, "acquire right after a release must succeed")
			assert.Equal(t, released, c.Slot().Index(), "most recently released slot is reused first")

			b.Reset()
			c.Reset()
		})
	}
}

func TestRelease(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 2, mode.opts...)

			t.Run("nil slot is a no-op", func(t *testing.T) {
				assert.False(t, p.Release(NilSlot))
				assert.Equal(t, int64(0), p.Stats().Refused)
			})

			t.Run("double release is refused", func(t *testing.T) {
				id, _, ok := p.Acquire()
				require.True(t, ok)
				assert.True(t, p.Release(id))
				assert.False(t, p.Release(id))
				assert.Equal(t, 2, p.Available())
			})

			t.Run("stale id cannot release next occupant", func(t *testing.T) {
				stale, _, _ := p.Acquire()
				require.True(t, p.Release(stale))

				current, _, ok := p.Acquire()
				require.True(t, ok)
				require.Equal(t, stale.Index(), current.Index())

				assert.False(t, p.Release(stale))
				assert.NotNil(t, p.Value(current))
				assert.Nil(t, p.Value(stale))
				assert.True(t, p.Release(current))
			})

			t.Run("foreign id is refused", func(t *testing.T) {
				other := newTestPool(t, 8)
				var id SlotID
				for i := 0; i < 8; i++ {
					id, _, _ = other.Acquire()
				}
				assert.False(t, p.Release(id))
				assert.Equal(t, 2, p.Available())
			})

			t.Run("foreign id with matching slot is refused", func(t *testing.T) {
				a := newTestPool(t, 2, mode.opts...)
				b := newTestPool(t, 2, mode.opts...)

				foreign, _, ok := a.Acquire()
				require.True(t, ok)
				h, ok := b.AcquireHandle(func(m *message) { m.Text = "Hello from worker 1" })
				require.True(t, ok)
				require.Equal(t, foreign.Index(), h.Slot().Index())
				require.Equal(t, foreign.Generation(), h.Slot().Generation())

				assert.False(t, b.Release(foreign))
				assert.Nil(t, b.Value(foreign))
				assert.True(t, h.Valid(), "handle keeps its slot")
				assert.Equal(t, "Hello from worker 1", h.Value().Text)
				assert.Equal(t, 1, b.Available())
				assert.Equal(t, int64(1), b.Stats().Refused)

				h.Reset()
				assert.True(t, a.Release(foreign))
				assert.Equal(t, 2, a.Available())
				assert.Equal(t, 2, b.Available())
			})
		})
	}
}

func TestRelease_RunsDestructor(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			var destroyed []string
			opts := append([]Option{WithDestructor(func(m *message) {
				destroyed = append(destroyed, m.Text)
			})}, mode.opts...)
			p := newTestPool(t, 2, opts...)

			h, _ := p.AcquireHandle(func(m *message) { m.Text = "first" })
			h.Reset()
			h.Reset()

			assert.Equal(t, []string{"first"}, destroyed)
		})
	}
}

func TestConstructPanicReturnsSlot(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 1, mode.opts...)

			assert.Panics(t, func() {
				p.AcquireHandle(func(*message) { panic("boom") })
			})
			assert.Equal(t, 1, p.Available())

			h, ok := p.AcquireHandle(nil)
			require.True(t, ok)
			h.Reset()
		})
	}
}

func TestWith(t *testing.T) {
	p := newTestPool(t, 1)

	t.Run("releases after success", func(t *testing.T) {
		err := p.With(func(m *message) { m.ID = 3 }, func(m *message) error {
			assert.Equal(t, 3, m.ID)
			assert.Equal(t, 0, p.Available())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, p.Available())
	})

	t.Run("releases after error", func(t *testing.T) {
		sentinel := stderrors.New("fail")
		err := p.With(nil, func(*message) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, p.Available())
	})

	t.Run("releases after panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = p.With(nil, func(*message) error { panic("boom") })
		})
		assert.Equal(t, 1, p.Available())
	})

	t.Run("reports exhaustion", func(t *testing.T) {
		h, ok := p.AcquireHandle(nil)
		require.True(t, ok)
		defer h.Reset()

		called := false
		err := p.With(nil, func(*message) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.True(t, poolerrors.IsRetryable(err))
	})
}

func TestStats(t *testing.T) {
	p := newTestPool(t, 2, WithName("stats"))

	a, _ := p.AcquireHandle(nil)
	b, _ := p.AcquireHandle(nil)
	p.AcquireHandle(nil)
	a.Reset()

	s := p.Stats()
	assert.Equal(t, Stats{
		Name:      "stats",
		Capacity:  2,
		Available: 1,
		InUse:     1,
		Acquired:  2,
		Released:  1,
		Exhausted: 1,
	}, s)
	b.Reset()
}

func TestMetricsAndLogging(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewPoolCollector(reg)
	core, logs := observer.New(zapcore.DebugLevel)

	p, err := New[message](1,
		WithName("observed"),
		WithMetrics(collector),
		WithLogger(zap.New(core)))
	require.NoError(t, err)

	id, _, _ := p.Acquire()
	p.Acquire()
	p.Release(id)
	p.Release(id)

	expected := `
		# HELP slotpool_exhausted_total Total number of acquire attempts against an empty pool
		# TYPE slotpool_exhausted_total counter
		slotpool_exhausted_total{pool="observed"} 1
		# HELP slotpool_release_refused_total Total number of releases refused for stale or foreign slots
		# TYPE slotpool_release_refused_total counter
		slotpool_release_refused_total{pool="observed"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"slotpool_exhausted_total", "slotpool_release_refused_total"))

	assert.Equal(t, 1, logs.FilterMessage("pool exhausted").Len())
	assert.Equal(t, 1, logs.FilterMessage("release refused for slot not owned by pool").Len())
}

// TestConcurrentWorkers mirrors the demo workload: three goroutines doing
// five acquire-use-release cycles against a pool of ten.
func TestConcurrentWorkers(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			const (
				capacity = 10
				workers  = 3
				cycles   = 5
			)
			p := newTestPool(t, capacity, mode.opts...)

			var (
				mu    sync.Mutex
				bound = make(map[int]int)
				wg    sync.WaitGroup
			)
			wg.Add(workers)
			for w := 0; w < workers; w++ {
				go func(worker int) {
					defer wg.Done()
					for i := 0; i < cycles; i++ {
						h, ok := p.AcquireHandle(func(m *message) {
							m.ID = i
							m.Text = "worker"
						})
						if !ok {
							time.Sleep(time.Millisecond)
							continue
						}
						idx := h.Slot().Index()

						mu.Lock()
						if owner, taken := bound[idx]; taken {
							t.Errorf("slot %d bound by workers %d and %d", idx, owner, worker)
						}
						bound[idx] = worker
						mu.Unlock()

						assert.Equal(t, i, h.Value().ID)
						time.Sleep(2 * time.Millisecond)

						mu.Lock()
						delete(bound, idx)
						mu.Unlock()
						h.Reset()
					}
				}(w)
			}
			wg.Wait()

			assert.Equal(t, capacity, p.Available())
		})
	}
}

func TestConcurrentExhaustion(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			p := newTestPool(t, 1, mode.opts...)

			var (
				successes atomic.Int32
				failures  atomic.Int32
				start     = make(chan struct{})
				wg        sync.WaitGroup
				held      = make(chan *Handle[message], 2)
			)
			wg.Add(2)
			for i := 0; i < 2; i++ {
				go func() {
					defer wg.Done()
					<-start
					if h, ok := p.AcquireHandle(nil); ok {
						successes.Add(1)
						held <- h
						return
					}
					failures.Add(1)
				}()
			}
			close(start)
			wg.Wait()
			close(held)

			assert.Equal(t, int32(1), successes.Load())
			assert.Equal(t, int32(1), failures.Load())

			for h := range held {
				h.Reset()
			}
			assert.Equal(t, 1, p.Available())
		})
	}
}

func TestConcurrentStress(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			const (
				capacity   = 8
				goroutines = 32
				iterations = 2000
			)
			p := newTestPool(t, capacity, mode.opts...)
			var occupied [capacity]atomic.Int32

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for g := 0; g < goroutines; g++ {
				go func() {
					defer wg.Done()
					for i := 0; i < iterations; i++ {
						h, ok := p.AcquireHandle(nil)
						if !ok {
							continue
						}
						idx := h.Slot().Index()
						if occupied[idx].Add(1) != 1 {
							t.Errorf("slot %d handed out twice", idx)
						}
						occupied[idx].Add(-1)
						h.Reset()
					}
				}()
			}
			wg.Wait()

			s := p.Stats()
			assert.Equal(t, capacity, s.Available)
			assert.Equal(t, s.Acquired, s.Released)
		})
	}
}

func TestSlotID(t *testing.T) {
	assert.True(t, NilSlot.IsNil())
	assert.Equal(t, "slot(nil)", NilSlot.String())

	id := SlotID{index: 3, gen: 5}
	assert.False(t, id.IsNil())
	assert.Equal(t, 3, id.Index())
	assert.Equal(t, uint32(5), id.Generation())
	assert.Equal(t, "slot(3@5)", id.String())
}

func BenchmarkAcquireRelease(b *testing.B) {
	for _, mode := range modes {
		b.Run(mode.name, func(b *testing.B) {
			p := MustNew[message](64, mode.opts...)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				id, _, _ := p.Acquire()
				p.Release(id)
			}
		})
	}
}

func BenchmarkAcquireReleaseParallel(b *testing.B) {
	for _, mode := range modes {
		b.Run(mode.name, func(b *testing.B) {
			p := MustNew[message](1024, mode.opts...)

			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if id, _, ok := p.Acquire(); ok {
						p.Release(id)
					}
				}
			})
		})
	}
}
