// Package lockfree provides lock-free data structures for slot bookkeeping
package lockfree

import (
	"runtime"
	"sync/atomic"
)

// nilIndex marks the bottom of the stack. Stored indices are offset by one
// so that slot 0 is distinguishable from "empty".
const nilIndex = 0

// MaxCapacity is the largest number of indices an IndexStack can hold.
const MaxCapacity = 1<<32 - 2

// IndexStack is a bounded LIFO stack of slot indices in [0, capacity).
// It is a Treiber stack whose head packs a 32-bit ABA tag with the top index,
// so push and pop are a single CAS each. Safe for any number of concurrent
// producers and consumers.
//
// Each index must be in the stack at most once; pushing an index that is
// already present corrupts the links. Callers own that invariant.
type IndexStack struct {
	// head = tag<<32 | (top index + 1)
	head      atomic.Uint64
	_padding1 [7]uint64 //nolint:unused // keep head on its own cache line

	size      atomic.Int64
	_padding2 [7]uint64 //nolint:unused

	next     []atomic.Uint32
	capacity int
}

// NewIndexStack creates a stack able to hold indices [0, capacity).
// When full is true the stack starts with every index pushed, ordered so
// that the first Pop returns 0.
func NewIndexStack(capacity int, full bool) *IndexStack {
	if capacity < 0 || uint64(capacity) > MaxCapacity {
		panic("lockfree: capacity out of range")
	}
	s := &IndexStack{
		next:     make([]atomic.Uint32, capacity),
		capacity: capacity,
	}
	if full {
		for i := capacity - 1; i >= 0; i-- {
			s.Push(uint32(i))
		}
	}
	return s
}

// Push puts idx on top of the stack.
func (s *IndexStack) Push(idx uint32) {
	if int(idx) >= s.capacity {
		panic("lockfree: index out of range")
	}
	for {
		old := s.head.Load()
		s.next[idx].Store(uint32(old))
		updated := (old>>32+1)<<32 | uint64(idx+1)
		if s.head.CompareAndSwap(old, updated) {
			s.size.Add(1)
			return
		}
		runtime.Gosched()
	}
}

// Pop removes and returns the top index.
// Returns false if the stack is empty; it never blocks.
func (s *IndexStack) Pop() (uint32, bool) {
	for {
		old := s.head.Load()
		top := uint32(old)
		if top == nilIndex {
			return 0, false
		}
		below := s.next[top-1].Load()
		updated := (old>>32+1)<<32 | uint64(below)
		if s.head.CompareAndSwap(old, updated) {
			s.size.Add(-1)
			return top - 1, true
		}
		runtime.Gosched()
	}
}

// Len returns the number of indices in the stack, in [0, Cap()].
// This is an approximation in concurrent scenarios: size is adjusted after
// the head CAS, so a pop can briefly be counted before the push it follows.
func (s *IndexStack) Len() int {
	n := int(s.size.Load())
	switch {
	case n < 0:
		return 0
	case n > s.capacity:
		return s.capacity
	}
	return n
}

// Cap returns the index range of the stack.
func (s *IndexStack) Cap() int {
	return s.capacity
}

// IsEmpty returns true if the stack is empty.
// This check is atomic but may be stale in concurrent scenarios.
func (s *IndexStack) IsEmpty() bool {
	return uint32(s.head.Load()) == nilIndex
}
