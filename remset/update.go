// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// PrepareForOopsIntoCollectionSetDo runs once, before any worker starts
// OopsIntoCollectionSetDo, to disable concurrent enqueuing, absorb mutator
// partial buffers, and size the per-worker scanned-card counters
// (spec.md 6).
func (e *Engine) PrepareForOopsIntoCollectionSetDo() {
	e.concEnqueueEnabled.Store(false)
	e.MainDCQ.ConcatenateLogs()

	e.pauseMu.Lock()
	e.cardsScanned = make([]int64, e.nWorkers())
	e.dirtyRegions = make(map[heap.RegionIdx]*heap.Region)
	e.pauseMu.Unlock()

	for _, r := range e.Heap.Regions {
		r.ClearDirtyCardsRegionListMark()
		r.RS.ResetIter()
	}
}

// refineDuringGC is C3's refine_during_gc: the pause-time analogue of
// RefineCardConcurrently. It returns true iff c contains a reference into
// the collection set, in which case the caller must enqueue c on the
// cset-DCQ.
func (e *Engine) refineDuringGC(c heap.CardIdx, push PushClosure) bool {
	if !isDirty(e.Heap.Cards, c) {
		return false
	}
	r := regionOf(e.Heap, addrFor(c))
	if !relevantType(r, PhasePause) {
		return false
	}

	start, end, stale := trim(c, r, PhasePause)
	if stale {
		return false
	}

	e.Heap.Cards.Set(c, heap.Clean)
	e.Heap.Cards.Fence()

	objs, ok := r.Objects.ObjectsIntersecting(start, end)
	if !ok {
		// spec.md 4.3: "During pause, iteration failure is impossible by
		// construction (scan_top bounds parsability)."
		panic("remset: unparsable card during pause-time update")
	}

	foundCsetRef := false
	for _, obj := range objs {
		for _, ref := range obj.Refs {
			if ref.Slot < start || ref.Slot >= end {
				continue
			}
			if e.Heap.InCollectionSet(ref.Target) {
				push.Push(ref.Slot)
				foundCsetRef = true
			} else {
				recordCrossRegionRef(e.Heap, r, ref)
			}
		}
	}
	return foundCsetRef
}

// RefineCardDuringGC is the external-interface form of refineDuringGC
// (spec.md 6): it also performs the cset-DCQ enqueue side effect the
// source's card-table closure applies when a card is found to reference
// the collection set.
func (e *Engine) RefineCardDuringGC(c heap.CardIdx, push PushClosure) bool {
	found := e.refineDuringGC(c, push)
	if found {
		e.CsetDCQ.Enqueue(c)
	}
	return found
}

// updateRS drains every remaining completed buffer on the main DCQS,
// applying refineDuringGC to each card (spec.md 4.3, "each worker drains
// DCQ buffers"). Multiple workers may call this concurrently; DrainOne's
// internal locking divides the work between them.
func (e *Engine) updateRS(push PushClosure) {
	for {
		buf, ok := e.MainDCQ.DrainOne()
		if !ok {
			return
		}
		for _, c := range buf.Cards {
			e.RefineCardDuringGC(c, push)
		}
	}
}

// OopsIntoCollectionSetDo runs C3 then C4/C5 for one worker (spec.md 6):
// first draining the DCQS to bring RSs up to date and diverting cset
// references into the cset-DCQ, then scanning every cset region's RS for
// pointers into the collection set.
func (e *Engine) OopsIntoCollectionSetDo(worker int, push PushClosure, codeCl heap.CodeRootClosure) {
	e.updateRS(push)
	e.scanCollectionSet(worker, push, codeCl)
}

// CleanupAfterOopsIntoCollectionSetDo runs once after every worker has
// returned from OopsIntoCollectionSetDo (spec.md 6): it sums the per-
// worker scanned-card counts, cleans the card table for every region that
// was touched, and releases (or, on evacuation failure, retries) the
// cset-DCQ's buffers.
func (e *Engine) CleanupAfterOopsIntoCollectionSetDo(evacuationFailed bool) {
	e.pauseMu.Lock()
	var total int64
	for _, n := range e.cardsScanned {
		total += n
	}
	e.totalCardsScanned.Add(total)
	e.cardsScanned = nil

	for _, r := range e.dirtyRegions {
		lo := heap.CardIndex(r.Bottom)
		hi := heap.CardIndex(r.Bottom + heap.RegionSize)
		e.Heap.Cards.CleanRange(lo, hi)
		r.ClearDirtyCardsRegionListMark()
	}
	e.dirtyRegions = nil
	e.pauseMu.Unlock()

	if evacuationFailed {
		// The pause is being rolled back: cards we set aside because they
		// pointed into the (soon to be un-evacuated) cset must be retried
		// as ordinary RS updates.
		e.MainDCQ.MergeBufferLists(e.CsetDCQ)
	} else {
		e.CsetDCQ.Clear()
	}

	e.concEnqueueEnabled.Store(true)
}

// pushDirtyCardsRegion records r as needing card-table cleanup after the
// pause, thread-safely, the first time any worker observes it (spec.md 4.4
// step 3, C4 step for non-cset regions encountered during scan).
func (e *Engine) pushDirtyCardsRegion(r *heap.Region) {
	if !r.MarkOnDirtyCardsRegionList() {
		return
	}
	e.pauseMu.Lock()
	if e.dirtyRegions == nil {
		e.dirtyRegions = make(map[heap.RegionIdx]*heap.Region)
	}
	e.dirtyRegions[r.Idx] = r
	e.pauseMu.Unlock()
}
