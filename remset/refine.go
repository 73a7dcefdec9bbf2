// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// RefineCardConcurrently is C2: refine_card_concurrently. It runs from a
// refinement worker thread while mutators run, applying spec.md 4.2's
// seven-step procedure. worker is an opaque id, reserved for future
// per-worker statistics; the current implementation only needs it to size
// nothing and exists to match the external interface's signature.
func (e *Engine) RefineCardConcurrently(c heap.CardIdx, worker int) {
	if !isDirty(e.Heap.Cards, c) {
		return
	}
	start := addrFor(c)
	r := regionOf(e.Heap, start)
	if !relevantType(r, PhaseConcurrent) {
		return
	}

	if e.HotCache.Enabled() {
		evicted, result := e.HotCache.Insert(c)
		switch result {
		case heap.Buffered:
			e.hotCacheHits.Add(1)
			return
		case heap.Evicted:
			e.hotCacheEvictions.Add(1)
			c = evicted
			start = addrFor(c)
			r = regionOf(e.Heap, start)
			if !relevantType(r, PhaseConcurrent) {
				// The evicted card's region was freed or recycled
				// while it sat in the cache: stale, drop it.
				return
			}
		}
	}

	start, end, stale := trim(c, r, PhaseConcurrent)
	if stale {
		return
	}

	e.Heap.Cards.Set(c, heap.Clean)
	e.Heap.Cards.Fence()

	objs, ok := r.Objects.ObjectsIntersecting(start, end)
	if !ok {
		// Unparsable tail: re-dirty and hand the card back to the shared
		// queue for another attempt (spec.md 4.2 step 7, 7 error taxonomy).
		e.Heap.Cards.Set(c, heap.Dirty)
		e.MainDCQ.Enqueue(c)
		return
	}

	for _, obj := range objs {
		for _, ref := range obj.Refs {
			if ref.Slot < start || ref.Slot >= end {
				continue
			}
			recordCrossRegionRef(e.Heap, r, ref)
		}
	}
	e.concRefinedCards.Add(1)
}
