package pool

import (
	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
)

// Handle is the exclusive owner of one occupied slot. It is created only by
// Pool.AcquireHandle and gives its slot back exactly once, through Reset.
// The idiomatic pattern is
//
//	h, ok := p.AcquireHandle(construct)
//	if !ok {
//	    return errBusy
//	}
//	defer h.Reset()
//
// Ownership moves with Move or MoveTo, which leave the source empty. An
// empty Handle owns nothing: Valid is false and Reset does nothing.
//
// A Handle is not safe for concurrent use; hand it to one goroutine at a
// time.
type Handle[T any] struct {
	pool *Pool[T]
	id   SlotID
}

// Valid reports whether h currently owns a slot. A copy of a Handle whose
// slot has since been released through the original is not valid.
func (h *Handle[T]) Valid() bool {
	return h != nil && h.pool != nil && h.pool.owns(h.id)
}

// Value returns a pointer to the owned value. The pointer must not be kept
// after Reset.
//
// Value panics with a misuse error if h is empty; check Valid first when
// that is possible.
func (h *Handle[T]) Value() *T {
	if !h.Valid() {
		panic(poolerrors.New(poolerrors.ErrorTypeMisuse, "dereference of empty pool handle"))
	}
	return &h.pool.slots[h.id.index].value
}

// Slot returns the id of the owned slot, or NilSlot when empty.
func (h *Handle[T]) Slot() SlotID {
	if !h.Valid() {
		return NilSlot
	}
	return h.id
}

// Reset releases the owned slot and empties h. Calling it again, or on an
// empty or nil Handle, does nothing.
func (h *Handle[T]) Reset() {
	if h == nil || h.pool == nil {
		return
	}
	p, id := h.pool, h.id
	h.pool, h.id = nil, NilSlot
	if p.owns(id) {
		p.Release(id)
	}
}

// Move transfers ownership to a new Handle and leaves h empty.
func (h *Handle[T]) Move() *Handle[T] {
	moved := &Handle[T]{}
	if h == nil {
		return moved
	}
	moved.pool, moved.id = h.pool, h.id
	h.pool, h.id = nil, NilSlot
	return moved
}

// MoveTo transfers ownership into dst, releasing whatever dst owned first.
// h is left empty. Moving a Handle onto itself does nothing.
func (h *Handle[T]) MoveTo(dst *Handle[T]) {
	if dst == nil || dst == h {
		return
	}
	dst.Reset()
	if h == nil {
		return
	}
	dst.pool, dst.id = h.pool, h.id
	h.pool, h.id = nil, NilSlot
}
