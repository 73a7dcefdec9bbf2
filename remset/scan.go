// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// scanCollectionSet is C4 (plus C5's per-region code-root scan folded into
// the first pass): for each cset region, claim and scan blocks of its RS,
// invoking push for every reference found pointing into the collection
// set. Workers start at a worker-biased offset into the cset list to
// spread contention (spec.md 4.4).
func (e *Engine) scanCollectionSet(worker int, push PushClosure, codeCl heap.CodeRootClosure) {
	cset := e.Heap.CollectionSet()
	n := len(cset)
	if n == 0 {
		return
	}
	offset := worker % n

	var cardsDone int64
	for pass := 0; pass < 2; pass++ {
		tryClaimed := pass == 1
		for i := 0; i < n; i++ {
			r := cset[(offset+i)%n]
			cardsDone += e.scanRegionRS(r, tryClaimed, push, codeCl)
		}
	}

	e.pauseMu.Lock()
	if e.cardsScanned != nil && worker < len(e.cardsScanned) {
		e.cardsScanned[worker] += cardsDone
	}
	e.pauseMu.Unlock()
}

// scanRegionRS implements ScanRSClosure::doHeapRegion for a single cset
// region r, returning the number of cards this call actually scanned
// (spec.md 4.4 steps 1-6).
func (e *Engine) scanRegionRS(r *heap.Region, tryClaimed bool, push PushClosure, codeCl heap.CodeRootClosure) int64 {
	if r.RS.IterIsComplete() {
		return 0
	}
	if !tryClaimed && !r.RS.ClaimIter() {
		return 0
	}

	e.pushDirtyCardsRegion(r)

	blockSize := e.Config.RSetScanBlockSize
	if blockSize < 1 {
		blockSize = 1
	}

	var cardsDone int64
	total := r.RS.SnapshotLen()
	jump, ok := r.RS.IterClaimedNext(blockSize)
	for current := 0; ok && current < total; current++ {
		if current >= jump+blockSize {
			jump, ok = r.RS.IterClaimedNext(blockSize)
			if !ok {
				break
			}
		}
		if current < jump {
			continue
		}
		cardsDone += e.scanClaimedCard(r.RS.CardAt(current), push)
	}

	if !tryClaimed {
		e.scanStrongCodeRoots(r, codeCl)
		r.RS.SetIterComplete()
	}
	return cardsDone
}

// scanClaimedCard handles one card index drawn from a cset region's RS
// snapshot: it resolves the card's own region, lazily claims the card
// byte, and precisely scans the live intersection for cset references
// (spec.md 4.4 step 5).
func (e *Engine) scanClaimedCard(cardIdx heap.CardIdx, push PushClosure) int64 {
	cardStart := addrFor(cardIdx)
	cardRegion := e.Heap.RegionOf(cardStart)
	if cardRegion == nil {
		// The card lies outside the reserved heap. Nothing to scan.
		return 0
	}
	e.pushDirtyCardsRegion(cardRegion)

	if cardRegion.InCollectionSet() {
		// Cards in cset regions are not scanned here; the pause-time
		// updater (C3) skips them as well, since their objects are about
		// to move.
		return 0
	}

	v := e.Heap.Cards.Get(cardIdx)
	if v == heap.Dirty || v == heap.Claimed {
		return 0
	}
	if !e.Heap.Cards.CompareAndSet(cardIdx, v, heap.Claimed) {
		// Another worker won the race; benign, just wasted work avoided.
		return 0
	}

	lo := heap.Max(cardRegion.Bottom, cardStart)
	hi := heap.Min(cardRegion.ScanTop(), cardStart+heap.CardSize)
	if lo >= hi {
		return 1
	}
	objs, _ := cardRegion.Objects.ObjectsIntersecting(lo, hi)
	for _, obj := range objs {
		for _, ref := range obj.Refs {
			if ref.Slot < lo || ref.Slot >= hi {
				continue
			}
			if e.Heap.InCollectionSet(ref.Target) {
				push.Push(ref.Slot)
			}
		}
	}
	return 1
}
