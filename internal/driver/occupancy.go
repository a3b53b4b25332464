package driver

import "sync"

// occupancy records which worker currently holds each slot. A bind onto a
// slot that is already bound, or a message found changed at the end of a
// hold, is an overlap violation: two owners for one slot.
type occupancy struct {
	mu       sync.Mutex
	holders  map[int]int
	seen     map[int]struct{}
	overlaps int64
}

func newOccupancy() *occupancy {
	return &occupancy{
		holders: make(map[int]int),
		seen:    make(map[int]struct{}),
	}
}

func (o *occupancy) bind(slot, worker int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, taken := o.holders[slot]; taken {
		o.overlaps++
	}
	o.holders[slot] = worker
	o.seen[slot] = struct{}{}
}

func (o *occupancy) unbind(slot, worker int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.holders[slot] == worker {
		delete(o.holders, slot)
	}
}

func (o *occupancy) corrupted() {
	o.mu.Lock()
	o.overlaps++
	o.mu.Unlock()
}

func (o *occupancy) violations() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overlaps
}

func (o *occupancy) distinct() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}
