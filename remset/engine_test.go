// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import (
	"testing"

	"region-gc/heap"
)

func newTestHeap(nRegions int) *heap.Heap {
	h := heap.NewHeap(0, nRegions)
	for _, r := range h.Regions {
		r.SetType(heap.Old)
		r.SetTop(r.Bottom + heap.RegionSize)
	}
	return h
}

func newTestEngine(h *heap.Heap) *Engine {
	cfg := DefaultConfig()
	cfg.ParallelGCThreads = 1
	return NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(0, false), heap.NeverAbortScheduler{}, cfg)
}

// scenario 1: a card dirtied by a store into an object that is freed before
// the refiner gets to it must be silently dropped, not crash the refiner.
func TestRefineCardConcurrentlyStaleFreedRegion(t *testing.T) {
	h := newTestHeap(2)
	e := newTestEngine(h)

	src := h.Regions[0]
	dst := h.Regions[1]
	slot := src.Bottom + 8
	obj := heap.NewObject(src.Bottom, 4, false, []heap.Ref{{Slot: slot, Target: dst.Bottom}})
	src.Objects.Add(obj)

	c := heap.CardIndex(slot)
	h.Cards.Set(c, heap.Dirty)

	// Region is freed before refinement runs.
	src.SetType(heap.Free)

	e.RefineCardConcurrently(c, 0)

	if dst.RS.Len() != 0 {
		t.Fatal("freed source region must not install a cross-region reference")
	}
}

// scenario 2: a young region's dirty cards are never refined (relevant_type
// filters them out).
func TestRefineCardConcurrentlyYoungFilter(t *testing.T) {
	h := newTestHeap(2)
	e := newTestEngine(h)

	src := h.Regions[0]
	src.SetType(heap.Young)
	dst := h.Regions[1]
	slot := src.Bottom + 8
	obj := heap.NewObject(src.Bottom, 4, false, []heap.Ref{{Slot: slot, Target: dst.Bottom}})
	src.Objects.Add(obj)

	c := heap.CardIndex(slot)
	h.Cards.Set(c, heap.Dirty)

	e.RefineCardConcurrently(c, 0)

	if dst.RS.Len() != 0 {
		t.Fatal("young region's dirty card must not be refined")
	}
	if h.Cards.Get(c) != heap.Dirty {
		t.Fatal("card should be left untouched, not cleaned")
	}
}

// scenario 3: hot-card eviction chain with capacity 2 (mirrors
// heap.TestHotCardCacheEvictionChain but exercised through the engine, whose
// eviction handling re-resolves the evicted card's own region).
func TestRefineCardConcurrentlyHotCacheEviction(t *testing.T) {
	h := newTestHeap(2)
	cfg := DefaultConfig()
	cfg.ParallelGCThreads = 1
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(2, true), heap.NeverAbortScheduler{}, cfg)

	src := h.Regions[0]
	dst := h.Regions[1]

	slotA := src.Bottom + 8
	slotB := src.Bottom + heap.CardSize + 8
	slotC := src.Bottom + 2*heap.CardSize + 8
	obj := heap.NewObject(src.Bottom, heap.RegionSizeWords, false, []heap.Ref{
		{Slot: slotA, Target: dst.Bottom},
		{Slot: slotB, Target: dst.Bottom},
		{Slot: slotC, Target: dst.Bottom},
	})
	src.Objects.Add(obj)

	cA := heap.CardIndex(slotA)
	cB := heap.CardIndex(slotB)
	cC := heap.CardIndex(slotC)
	h.Cards.Set(cA, heap.Dirty)
	h.Cards.Set(cB, heap.Dirty)
	h.Cards.Set(cC, heap.Dirty)

	e.RefineCardConcurrently(cA, 0) // buffered
	e.RefineCardConcurrently(cB, 0) // buffered
	e.RefineCardConcurrently(cC, 0) // evicts cA, which gets refined now

	if dst.RS.Len() != 1 {
		t.Fatalf("expected exactly one card refined via eviction, RS has %d entries", dst.RS.Len())
	}
	if !dst.RS.Contains(cA) {
		t.Fatal("expected the evicted card (cA) to be the one refined")
	}
	if e.hotCacheEvictions.Load() != 1 {
		t.Fatalf("hotCacheEvictions = %d, want 1", e.hotCacheEvictions.Load())
	}
}

// scenario 4: two cset regions whose RSs both reference the same
// non-cset card must each be scanned exactly once via the two-pass protocol.
func TestScanCollectionSetTwoPassIntersectingRS(t *testing.T) {
	h := newTestHeap(3)
	e := newTestEngine(h)

	nonCset := h.Regions[0]
	csetA := h.Regions[1]
	csetB := h.Regions[2]
	csetA.SetInCollectionSet(true)
	csetB.SetInCollectionSet(true)

	slotToA := nonCset.Bottom + 8
	slotToB := nonCset.Bottom + 16
	obj := heap.NewObject(nonCset.Bottom, heap.RegionSizeWords, false, []heap.Ref{
		{Slot: slotToA, Target: csetA.Bottom},
		{Slot: slotToB, Target: csetB.Bottom},
	})
	nonCset.Objects.Add(obj)

	shared := heap.CardIndex(slotToA)
	csetA.RS.Insert(shared)
	csetB.RS.Insert(shared)

	var pushed []heap.Addr
	push := PushClosureFunc(func(a heap.Addr) { pushed = append(pushed, a) })

	e.scanCollectionSet(0, push, nil)

	if len(pushed) != 2 {
		t.Fatalf("expected 2 pushed slots, got %d: %v", len(pushed), pushed)
	}
}

// scenario 5: evacuation-failure rollback must fold the cset-DCQ back into
// the main DCQ for retry, rather than discarding it.
func TestCleanupAfterEvacuationFailureRetriesCsetDCQ(t *testing.T) {
	h := newTestHeap(1)
	e := newTestEngine(h)
	e.PrepareForOopsIntoCollectionSetDo()

	e.CsetDCQ.Enqueue(7)
	e.CsetDCQ.ConcatenateLogs()

	e.CleanupAfterOopsIntoCollectionSetDo(true)

	if e.CsetDCQ.CompletedBuffersNum() != 0 {
		t.Fatal("cset DCQ should be drained into main DCQ on failure")
	}
	if e.MainDCQ.CompletedBuffersNum() == 0 {
		t.Fatal("main DCQ should have absorbed the cset DCQ's buffers")
	}
	if !e.ConcurrentEnqueuingEnabled() {
		t.Fatal("concurrent enqueuing must be re-enabled after cleanup")
	}
}

// A card claimed while scanning a surviving (non-cset) region's
// RS entry must be reset to clean by cleanup, so a later pause can claim and
// scan it again instead of finding it permanently stuck at Claimed.
func TestCleanupAfterOopsIntoCollectionSetDoCleansClaimedCards(t *testing.T) {
	h := newTestHeap(2)
	e := newTestEngine(h)

	survivor := h.Regions[0]
	cset := h.Regions[1]
	cset.SetInCollectionSet(true)

	slot := survivor.Bottom + 8
	obj := heap.NewObject(survivor.Bottom, heap.RegionSizeWords, false, []heap.Ref{
		{Slot: slot, Target: cset.Bottom},
	})
	survivor.Objects.Add(obj)
	card := heap.CardIndex(slot)
	cset.RS.Insert(card)

	var pushed []heap.Addr
	push := PushClosureFunc(func(a heap.Addr) { pushed = append(pushed, a) })

	e.PrepareForOopsIntoCollectionSetDo()
	e.scanCollectionSet(0, push, nil)

	if got := h.Cards.Get(card); got != heap.Claimed {
		t.Fatalf("card should be Claimed mid-pause, got %v", got)
	}
	e.CleanupAfterOopsIntoCollectionSetDo(false)

	if got := h.Cards.Get(card); got != heap.Clean {
		t.Fatalf("card table should be clean after cleanup, got %v, want Clean", got)
	}

	// A second pause over the same surviving region, with the card still
	// named by the cset region's RS, must claim and scan it again.
	pushed = nil
	e.PrepareForOopsIntoCollectionSetDo()
	e.scanCollectionSet(0, push, nil)
	e.CleanupAfterOopsIntoCollectionSetDo(false)

	if len(pushed) != 1 {
		t.Fatalf("expected the card to be scanned again on the second pause, pushed = %v", pushed)
	}
}

func TestCleanupAfterSuccessClearsCsetDCQ(t *testing.T) {
	h := newTestHeap(1)
	e := newTestEngine(h)
	e.PrepareForOopsIntoCollectionSetDo()
	e.CsetDCQ.Enqueue(7)
	e.CsetDCQ.ConcatenateLogs()

	e.CleanupAfterOopsIntoCollectionSetDo(false)

	if e.CsetDCQ.CompletedBuffersNum() != 0 {
		t.Fatal("cset DCQ should be cleared on success")
	}
	if e.MainDCQ.CompletedBuffersNum() != 0 {
		t.Fatal("main DCQ should not gain buffers on success")
	}
}

// scenario 6: rebuild must stop promptly once the marking scheduler reports
// abort, without asserting on partially-rebuilt regions.
func TestRebuildRemSetAbortStopsEarly(t *testing.T) {
	h := newTestHeap(4)
	cfg := DefaultConfig()
	cfg.ParallelGCThreads = 1
	sched := &heap.FlagScheduler{Aborted: true}
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(0, false), sched, cfg)

	for _, r := range h.Regions {
		r.SetNextTopAtMarkStart(r.Bottom)
		r.SetTopAtRebuildStart(r.Bottom + heap.RegionSize)
	}

	bm := heap.NewMarkBitmap()
	e.RebuildRemSet(bm, 2, 0)
	// Nothing to assert beyond "did not panic and returned promptly": an
	// aborted scheduler means every worker exits before claiming a region.
}

// scenario 7: an objArray whose fields straddle a chunk boundary must have
// only the in-range fields scanned by each chunk.
func TestRebuildChunkArrayCrossingBoundary(t *testing.T) {
	h := newTestHeap(2)
	cfg := DefaultConfig()
	cfg.RebuildChunkWords = 4
	cfg.ParallelGCThreads = 1
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(0, false), heap.NeverAbortScheduler{}, cfg)

	r := h.Regions[0]
	dst := h.Regions[1]
	r.SetNextTopAtMarkStart(r.Bottom) // everything above TAMS is implicitly live
	// The array starts four words before the first card boundary, so its
	// two refs fall in different cards as well as different chunks.
	arrStart := r.Bottom + heap.Addr(heap.CardSize-4*heap.WordSize)
	r.SetTopAtRebuildStart(arrStart + heap.Addr(8*heap.WordSize))

	refInFirstChunk := arrStart + heap.Addr(1*heap.WordSize)
	refInSecondChunk := arrStart + heap.Addr(5*heap.WordSize)
	arr := heap.NewObject(arrStart, 8, true, []heap.Ref{
		{Slot: refInFirstChunk, Target: dst.Bottom},
		{Slot: refInSecondChunk, Target: dst.Bottom},
	})
	r.Objects.Add(arr)

	bm := heap.NewMarkBitmap()
	bm.Mark(r.Bottom)

	e.rebuildRegion(r, bm)

	if dst.RS.Len() != 2 {
		t.Fatalf("both straddling refs should end up recorded, got %d", dst.RS.Len())
	}
}

// A humongous object spanning two regions, each rebuilt in more than one
// chunk, must credit marked_words to each region's *first* chunk only —
// not to every chunk that happens to start at its own region's bottom's
// arithmetic ancestor. Regression test for a bug where the per-region
// "first chunk" check compared against the chunk's own start instead of
// the region's bottom, over-crediting every chunk after the first and
// tripping the marked-bytes assertion in rebuildRegion.
func TestRebuildHumongousObjectMultiChunkPerRegion(t *testing.T) {
	h := heap.NewHeap(0, 3)
	cfg := DefaultConfig()
	cfg.RebuildChunkWords = heap.RegionSizeWords / 2 // 2 chunks per region
	cfg.ParallelGCThreads = 1
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(0, false), heap.NeverAbortScheduler{}, cfg)

	start := h.Regions[0]
	cont := h.Regions[1]
	target := h.Regions[2]
	start.SetType(heap.HumongousStart)
	cont.SetType(heap.HumongousContinues)
	cont.SetHumongousOwner(start.Idx)

	crossRegionSlot := start.Bottom + heap.Addr(heap.WordSize)
	obj := heap.NewObject(start.Bottom, 2*heap.RegionSizeWords, true, []heap.Ref{
		{Slot: crossRegionSlot, Target: target.Bottom},
	})
	start.Objects.Add(obj)

	chunkBytes := int64(cfg.RebuildChunkWords * heap.WordSize)
	for _, r := range []*heap.Region{start, cont} {
		r.SetNextTopAtMarkStart(r.Bottom)
		r.SetTopAtRebuildStart(r.Bottom + heap.RegionSize)
		r.SetNextMarkedBytes(chunkBytes)
	}

	bm := heap.NewMarkBitmap()
	bm.Mark(start.Bottom)

	e.RebuildRemSet(bm, 1, 0) // must not panic on the marked-bytes assertion

	if !target.RS.Contains(heap.CardIndex(crossRegionSlot)) {
		t.Fatal("cross-region reference from the humongous object was not recorded")
	}
}

func TestSummaryPeriodicDelta(t *testing.T) {
	h := newTestHeap(1)
	e := newTestEngine(h)
	e.concRefinedCards.Store(10)

	first := e.PrintPeriodicSummaryInfo()
	if first == "" {
		t.Fatal("expected non-empty summary")
	}
	e.concRefinedCards.Store(15)
	second := e.PrintPeriodicSummaryInfo()
	if second == first {
		t.Fatal("periodic summary should reflect the delta, not repeat")
	}
}

func TestPrepareForVerifyFlushesLogs(t *testing.T) {
	h := newTestHeap(1)
	e := newTestEngine(h)
	e.Config.FlushLogBuffersOnVerify = true
	e.MainDCQ.Enqueue(1)

	e.PrepareForVerify()

	if e.MainDCQ.CompletedBuffersNum() != 0 {
		t.Fatal("PrepareForVerify should have drained the main DCQ")
	}
}

func TestPrepareForVerifyRestoresHotCacheState(t *testing.T) {
	h := newTestHeap(1)
	cfg := DefaultConfig()
	cfg.ParallelGCThreads = 1
	cfg.FlushLogBuffersOnVerify = true
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(4, true), heap.NeverAbortScheduler{}, cfg)

	e.PrepareForVerify()
	if !e.HotCache.Enabled() {
		t.Fatal("hot cache should be re-enabled after PrepareForVerify")
	}

	// A second verify pass must behave the same way, not lose caching
	// permanently after the first call.
	e.PrepareForVerify()
	if !e.HotCache.Enabled() {
		t.Fatal("hot cache should still be enabled after a second PrepareForVerify")
	}
}

func TestPrepareForVerifyLeavesDisabledCacheDisabled(t *testing.T) {
	h := newTestHeap(1)
	cfg := DefaultConfig()
	cfg.ParallelGCThreads = 1
	cfg.FlushLogBuffersOnVerify = true
	e := NewEngine(h, heap.NewDCQSet(8), heap.NewDCQSet(8), heap.NewHotCardCache(4, false), heap.NeverAbortScheduler{}, cfg)

	e.PrepareForVerify()

	if e.HotCache.Enabled() {
		t.Fatal("a cache that started disabled must remain disabled")
	}
}

func TestCleanupHRRSResetsIteration(t *testing.T) {
	h := newTestHeap(1)
	e := newTestEngine(h)
	r := h.Regions[0]
	r.RS.Insert(1)
	r.RS.ClaimIter()
	r.RS.SetIterComplete()

	e.CleanupHRRS()

	if r.RS.IterIsComplete() {
		t.Fatal("CleanupHRRS should reset iteration state")
	}
	if !r.RS.ClaimIter() {
		t.Fatal("a fresh ClaimIter should succeed after CleanupHRRS")
	}
}

func TestScrubRemovesDeadCrossRegionEntries(t *testing.T) {
	h := newTestHeap(2)
	e := newTestEngine(h)

	dst := h.Regions[1]
	// Cards 10 and 20 both lie in region 0.
	dst.RS.Insert(10)
	dst.RS.Insert(20)

	regionBM := heap.NewRegionBitmap()
	regionBM.MarkAlive(0)
	cardBM := heap.NewCardBitmap()
	cardBM.MarkAlive(10)

	e.Scrub(regionBM, cardBM)

	if dst.RS.Contains(20) {
		t.Fatal("card 20 should have been scrubbed (not card-live)")
	}
	if !dst.RS.Contains(10) {
		t.Fatal("card 10 should survive (region and card both live)")
	}
}
