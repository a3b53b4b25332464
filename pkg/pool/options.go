package pool

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/slotpool/pkg/metrics"
)

// Option configures a Pool at construction time.
type Option func(*options)

type options struct {
	name     string
	destroy  any // func(*T), checked against T in New
	logger   *zap.Logger
	metrics  *metrics.PoolCollector
	lockFree bool
}

func defaultOptions() options {
	return options{
		name:   "default",
		logger: zap.NewNop(),
	}
}

// WithName sets the name used in log fields and metric labels.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDestructor registers fn to run on a value right before its slot is
// returned to the free-list. The slot is zeroed afterwards regardless, so fn
// only needs to release what the zero value cannot, such as open files.
//
// T must match the pool element type; New rejects a mismatch.
func WithDestructor[T any](fn func(*T)) Option {
	return func(o *options) {
		if fn != nil {
			o.destroy = fn
		}
	}
}

// WithLogger sets the logger for exhaustion and refused-release events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics reports pool activity to collector.
func WithMetrics(collector *metrics.PoolCollector) Option {
	return func(o *options) {
		o.metrics = collector
	}
}

// WithLockFree replaces the mutex-guarded free-list with a lock-free stack.
func WithLockFree() Option {
	return func(o *options) {
		o.lockFree = true
	}
}
