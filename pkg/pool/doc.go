// Package pool implements a fixed-capacity, thread-safe pool of reusable
// values. Callers borrow a slot, use the value stored in it and give it back,
// without a heap allocation per use and without the pool ever growing.
//
// Architecture
//
// A Pool[T] owns a single slice of N slots allocated by New and a LIFO
// free-list of the indices that are currently FREE. Every slot is always
// either FREE (its index is on the free-list) or OCCUPIED (exactly one owner
// holds its SlotID); no slot is created or destroyed after New.
//
// Slots are addressed by SlotID, an index plus a generation counter tagged
// with the issuing pool, never by raw pointer. Releasing bumps the
// generation, so a stale SlotID cannot release or read the next occupant of
// the same slot, and no pool accepts a SlotID issued by another.
//
// Core Types:
//
//   - Pool[T]: the slot storage and free-list
//   - Handle[T]: move-only owner of one occupied slot; Reset releases it
//   - SlotID: index and generation of one occupancy
//
// Exhaustion
//
// Acquire and AcquireHandle never block. When the free-list is empty they
// return ok == false immediately; there is no wait queue, so a caller under
// contention retries with its own backoff. With reports exhaustion as an
// error wrapping ErrExhausted that pkg/errors classifies as retryable.
//
// Usage Patterns
//
// Scoped borrow through a Handle:
//
//	p := pool.MustNew[Message](10, pool.WithName("messages"))
//
//	h, ok := p.AcquireHandle(func(m *Message) {
//		m.ID = 1
//		m.Text = "hello"
//	})
//	if !ok {
//		return errBusy
//	}
//	defer h.Reset()
//
//	fmt.Println(h.Value().Text)
//
// Callback form, released on every exit path:
//
//	err := p.With(nil, func(m *Message) error {
//		return fill(m)
//	})
//	if errors.Is(err, pool.ErrExhausted) {
//		// back off
//	}
//
// Raw form for callers that manage ownership themselves:
//
//	id, m, ok := p.Acquire()
//	if ok {
//		m.Text = "raw"
//		p.Release(id)
//	}
//
// Concurrency
//
// All Pool methods are safe for concurrent use. The default free-list is a
// slice under one mutex; construct and destructor callbacks run inside that
// critical section, so slow callbacks extend lock hold time. WithLockFree
// switches to a CAS-driven stack from pkg/lockfree and runs callbacks outside
// any lock. The value inside an occupied slot belongs to the Handle holder
// and is not synchronized by the pool.
package pool
