// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "sync/atomic"

// CardValue is one of the values a card table byte may hold.
type CardValue uint8

const (
	// Clean means the card has no unrefined mutator stores.
	Clean CardValue = 0
	// Dirty means the card was touched by the write barrier (or
	// re-enqueued after a failed refine) and awaits scanning.
	Dirty CardValue = 1
	// YoungCard marks a card belonging to a young region so post-barrier
	// filters can skip it cheaply without a region lookup.
	YoungCard CardValue = 2
	// Claimed is the lazy-claim marker the cset scanner (C4) uses to
	// avoid rescanning a card that another worker already visited.
	Claimed CardValue = 3
)

// CardTable is a byte array parallel to the heap, one byte per card. Bytes
// are accessed with atomic loads/stores; callers needing the clean-before-
// read fence from spec.md 4.1 must call Fence explicitly, mirroring the
// teacher's insistence that the fence never be folded into the store.
type CardTable struct {
	bytes []atomic.Uint32 // one card value per slot; Uint32 avoids a dependency on atomic.Uint8 for portability
}

// NewCardTable allocates a card table covering nCards cards, all clean.
func NewCardTable(nCards int) *CardTable {
	return &CardTable{bytes: make([]atomic.Uint32, nCards)}
}

// Get returns the current value of card i.
func (ct *CardTable) Get(i CardIdx) CardValue {
	return CardValue(ct.bytes[i].Load())
}

// Set stores v into card i without any ordering guarantee beyond the atomic
// store itself. Callers requiring the clean-then-fence idiom must call
// Fence afterward.
func (ct *CardTable) Set(i CardIdx, v CardValue) {
	ct.bytes[i].Store(uint32(v))
}

// CompareAndSet performs a CAS on card i, used by the cset scanner (C4) to
// claim a card lazily: racing claims are benign, so a failed CAS is simply
// treated as "someone else already handled it."
func (ct *CardTable) CompareAndSet(i CardIdx, old, new CardValue) bool {
	return ct.bytes[i].CompareAndSwap(uint32(old), uint32(new))
}

// NumCards reports the number of cards backing this table.
func (ct *CardTable) NumCards() int {
	return len(ct.bytes)
}

// CleanRange resets every card in [from, to) that is currently Claimed back
// to Clean, mirroring cleanUpCardTable(): the cset scanner (C4) leaves
// visited cards Claimed rather than Clean so a racing worker can tell a
// card was already handled during the pause; once the pause ends those
// markers must be cleared or the card becomes permanently unscannable in
// every later pause. Cards other than Claimed (Dirty, YoungCard) are left
// untouched.
func (ct *CardTable) CleanRange(from, to CardIdx) {
	for i := from; i < to; i++ {
		ct.CompareAndSet(i, Claimed, Clean)
	}
}

// Fence is a full memory fence. In real hardware/compiler terms this would
// be a fence instruction; Go's memory model has no bare fence primitive, so
// this is modeled with a dummy atomic RMW, which the runtime lowers to a
// real fence on every supported architecture. The point (per spec.md 4.1) is
// that this call is a distinct, explicit step from the preceding Set, never
// folded into it.
func (ct *CardTable) Fence() {
	var v atomic.Uint32
	v.Add(1)
}
