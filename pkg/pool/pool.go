package pool

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/lockfree"
	"github.com/ajitpratap0/slotpool/pkg/metrics"
)

// MaxCapacity is the largest number of slots a Pool can be created with.
const MaxCapacity = 1<<31 - 1

// ErrExhausted is the cause of the error returned by With when every slot is
// occupied. Match it with errors.Is.
var ErrExhausted = stderrors.New("pool exhausted")

// poolIDs numbers pools so a SlotID can name the pool that issued it.
var poolIDs atomic.Uint32

// SlotID identifies one occupancy of one slot: the issuing pool, the slot
// index and the generation the slot had when it was handed out. A SlotID
// goes stale as soon as its slot is released, so it can never be used to
// reach the next occupant, and another pool never accepts it.
//
// The zero SlotID is NilSlot and never refers to a slot.
type SlotID struct {
	pool  uint32
	index uint32
	gen   uint32
}

// NilSlot is the SlotID that refers to nothing.
var NilSlot SlotID

// Index returns the slot position in [0, capacity).
func (id SlotID) Index() int { return int(id.index) }

// Generation returns the slot generation captured at acquire time.
func (id SlotID) Generation() uint32 { return id.gen }

// IsNil reports whether id is NilSlot.
func (id SlotID) IsNil() bool { return id.gen == 0 }

func (id SlotID) String() string {
	if id.IsNil() {
		return "slot(nil)"
	}
	return fmt.Sprintf("slot(%d@%d)", id.index, id.gen)
}

// slot is one fixed storage cell. gen is even while the slot is FREE and
// odd while it is OCCUPIED.
type slot[T any] struct {
	value T
	gen   atomic.Uint32
}

// Pool is a fixed-capacity pool of T values. Storage for every slot is
// allocated once by New and never grows or shrinks; Acquire hands out a free
// slot or reports exhaustion immediately, it never waits.
//
// In the default mode the free-list is a slice guarded by one mutex, and the
// construct and destructor callbacks run while that mutex is held, so keep
// them cheap. With WithLockFree the free-list is a CAS-driven stack and the
// callbacks run without any lock.
//
// Free slots are reused last-in-first-out.
type Pool[T any] struct {
	id    uint32
	name  string
	slots []slot[T]

	mu    sync.Mutex
	free  []uint32             // locked mode
	stack *lockfree.IndexStack // lock-free mode

	destroy func(*T)
	logger  *zap.Logger
	metrics *metrics.PoolCollector

	stats struct {
		acquired  atomic.Int64
		released  atomic.Int64
		exhausted atomic.Int64
		refused   atomic.Int64
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
	Acquired  int64  `json:"acquired"`
	Released  int64  `json:"released"`
	Exhausted int64  `json:"exhausted"`
	Refused   int64  `json:"refused"`
}

// New creates a pool with capacity slots, all FREE.
//
// Example:
//
//	p, err := pool.New[Message](10,
//	    pool.WithName("messages"),
//	    pool.WithDestructor(func(m *Message) { m.Close() }),
//	)
func New[T any](capacity int, opts ...Option) (*Pool[T], error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, poolerrors.Newf(poolerrors.ErrorTypeValidation,
			"capacity must be in [1, %d]", MaxCapacity).
			WithDetail("capacity", capacity)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[T]{
		id:      poolIDs.Add(1),
		name:    o.name,
		slots:   make([]slot[T], capacity),
		logger:  o.logger,
		metrics: o.metrics,
	}

	if o.destroy != nil {
		destroy, ok := o.destroy.(func(*T))
		if !ok {
			return nil, poolerrors.Newf(poolerrors.ErrorTypeValidation,
				"destructor %T does not accept *%T", o.destroy, *new(T))
		}
		p.destroy = destroy
	}

	if o.lockFree {
		p.stack = lockfree.NewIndexStack(capacity, true)
	} else {
		// top of the stack is the end of the slice; slot 0 goes out first
		p.free = make([]uint32, capacity)
		for i := range p.free {
			p.free[i] = uint32(capacity - 1 - i)
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveCapacity(p.name, capacity)
	}
	p.logger.Debug("pool created",
		zap.String("pool", p.name),
		zap.Int("capacity", capacity),
		zap.Bool("lock_free", o.lockFree))

	return p, nil
}

// MustNew is like New but panics on invalid arguments.
func MustNew[T any](capacity int, opts ...Option) *Pool[T] {
	p, err := New[T](capacity, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the pool name used in logs and metrics.
func (p *Pool[T]) Name() string {
	return p.name
}

// Capacity returns the fixed number of slots.
func (p *Pool[T]) Capacity() int {
	return len(p.slots)
}

// Acquire takes a free slot and returns its id together with a pointer to
// the zero-valued T stored in it. ok is false when the pool is exhausted.
//
// This is the raw interface: the caller must pass id to Release exactly
// once and must not use the pointer afterwards. Prefer AcquireHandle.
func (p *Pool[T]) Acquire() (id SlotID, value *T, ok bool) {
	id, ok = p.acquire(nil)
	if !ok {
		return NilSlot, nil, false
	}
	return id, &p.slots[id.index].value, true
}

// AcquireHandle takes a free slot, runs construct on its zero value and
// returns a Handle owning it. A nil construct leaves the zero value.
// Returns nil, false when the pool is exhausted.
//
//	h, ok := p.AcquireHandle(func(m *Message) {
//	    m.ID = 7
//	    m.Text = "hello"
//	})
//	if !ok {
//	    // pool exhausted, back off
//	}
//	defer h.Reset()
func (p *Pool[T]) AcquireHandle(construct func(*T)) (*Handle[T], bool) {
	id, ok := p.acquire(construct)
	if !ok {
		return nil, false
	}
	return &Handle[T]{pool: p, id: id}, true
}

// With borrows a slot for the duration of fn and releases it on every exit
// path, including a panic in fn. When the pool is exhausted fn is not called
// and the returned error wraps ErrExhausted.
func (p *Pool[T]) With(construct func(*T), fn func(*T) error) error {
	h, ok := p.AcquireHandle(construct)
	if !ok {
		return poolerrors.Wrap(ErrExhausted, poolerrors.ErrorTypeExhausted, "no free slot").
			WithDetail("pool", p.name).
			WithDetail("capacity", len(p.slots))
	}
	defer h.Reset()
	return fn(h.Value())
}

// Release destroys the value in the slot and returns the slot to the
// free-list. It reports whether a slot was released: NilSlot, ids from
// another pool and stale ids (already released) are ignored.
func (p *Pool[T]) Release(id SlotID) bool {
	if id.IsNil() {
		return false
	}
	if id.pool != p.id || int(id.index) >= len(p.slots) || id.gen&1 == 0 {
		p.refuse(id)
		return false
	}

	var ok bool
	if p.stack != nil {
		ok = p.vacate(id)
	} else {
		ok = p.releaseLocked(id)
	}
	if !ok {
		p.refuse(id)
		return false
	}

	p.stats.released.Add(1)
	if p.metrics != nil {
		p.metrics.ObserveRelease(p.name, p.Available(), len(p.slots))
	}
	return true
}

// Value returns the value stored under id, or nil if id does not name a
// currently occupied slot of this pool.
func (p *Pool[T]) Value(id SlotID) *T {
	if !p.owns(id) {
		return nil
	}
	return &p.slots[id.index].value
}

// Available returns the number of free slots. The count is a snapshot, not
// a reservation: another goroutine may acquire right after it is read.
func (p *Pool[T]) Available() int {
	if p.stack != nil {
		return p.stack.Len()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Stats returns current pool counters.
func (p *Pool[T]) Stats() Stats {
	available := p.Available()
	return Stats{
		Name:      p.name,
		Capacity:  len(p.slots),
		Available: available,
		InUse:     len(p.slots) - available,
		Acquired:  p.stats.acquired.Load(),
		Released:  p.stats.released.Load(),
		Exhausted: p.stats.exhausted.Load(),
		Refused:   p.stats.refused.Load(),
	}
}

func (p *Pool[T]) acquire(construct func(*T)) (SlotID, bool) {
	var (
		id SlotID
		ok bool
	)
	if p.stack != nil {
		id, ok = p.acquireLockFree(construct)
	} else {
		id, ok = p.acquireLocked(construct)
	}

	if !ok {
		p.stats.exhausted.Add(1)
		if p.metrics != nil {
			p.metrics.ObserveExhausted(p.name)
		}
		p.logger.Debug("pool exhausted",
			zap.String("pool", p.name),
			zap.Int("capacity", len(p.slots)))
		return NilSlot, false
	}

	p.stats.acquired.Add(1)
	if p.metrics != nil {
		p.metrics.ObserveAcquire(p.name, p.Available(), len(p.slots))
	}
	return id, true
}

func (p *Pool[T]) acquireLocked(construct func(*T)) (SlotID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return NilSlot, false
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	return p.occupy(idx, construct), true
}

func (p *Pool[T]) acquireLockFree(construct func(*T)) (SlotID, bool) {
	idx, ok := p.stack.Pop()
	if !ok {
		return NilSlot, false
	}
	return p.occupy(idx, construct), true
}

// occupy marks a slot popped from the free-list as OCCUPIED and constructs
// its value. If construct panics the slot goes back to the free-list.
// In locked mode the caller holds p.mu.
func (p *Pool[T]) occupy(idx uint32, construct func(*T)) SlotID {
	s := &p.slots[idx]
	gen := s.gen.Add(1)

	if construct != nil {
		constructed := false
		defer func() {
			if !constructed {
				var zero T
				s.value = zero
				s.gen.Add(1)
				p.pushFree(idx)
			}
		}()
		construct(&s.value)
		constructed = true
	}

	return SlotID{pool: p.id, index: idx, gen: gen}
}

func (p *Pool[T]) releaseLocked(id SlotID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vacate(id)
}

// vacate flips the slot back to FREE, destroys its value and pushes it on
// the free-list. The CAS on the generation makes a second release of the
// same id fail. In locked mode the caller holds p.mu.
func (p *Pool[T]) vacate(id SlotID) bool {
	s := &p.slots[id.index]
	if !s.gen.CompareAndSwap(id.gen, id.gen+1) {
		return false
	}
	defer p.pushFree(id.index)
	p.destruct(&s.value)
	return true
}

func (p *Pool[T]) destruct(v *T) {
	defer func() {
		var zero T
		*v = zero
	}()
	if p.destroy != nil {
		p.destroy(v)
	}
}

func (p *Pool[T]) pushFree(idx uint32) {
	if p.stack != nil {
		p.stack.Push(idx)
		return
	}
	p.free = append(p.free, idx)
}

func (p *Pool[T]) owns(id SlotID) bool {
	if id.IsNil() || id.pool != p.id || int(id.index) >= len(p.slots) {
		return false
	}
	return p.slots[id.index].gen.Load() == id.gen
}

func (p *Pool[T]) refuse(id SlotID) {
	p.stats.refused.Add(1)
	if p.metrics != nil {
		p.metrics.ObserveRefused(p.name)
	}
	p.logger.Warn("release refused for slot not owned by pool",
		zap.String("pool", p.name),
		zap.Stringer("slot", id))
}
