// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import (
	"sync"
	"sync/atomic"

	"region-gc/heap"
)

// RebuildRemSet is C7: reconstruct every region's RS after a concurrent
// marking cycle by walking live objects, in chunks, under yield discipline
// (spec.md 4.7). bitmap is the "next mark bitmap" marking published; it is
// consumed here, never mutated. All workers claim regions from one shared
// counter; offset rotates the region order that counter walks.
func (e *Engine) RebuildRemSet(bitmap *heap.MarkBitmap, numWorkers, offset int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	regions := e.Heap.Regions
	n := int64(len(regions))
	if n == 0 {
		return
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if e.Marker.HasAborted() {
					return
				}
				i := next.Add(1) - 1
				if i >= n {
					return
				}
				idx := (int64(offset) + i) % n
				r := regions[idx]
				if r.IsHumongousContinues() && r.HumongousOwner() == heap.NoRegion {
					continue
				}
				e.rebuildRegion(r, bitmap)
			}
		}()
	}
	wg.Wait()
}

// rebuildRegion runs C7 on a single region, chunk by chunk.
func (e *Engine) rebuildRegion(r *heap.Region, bitmap *heap.MarkBitmap) {
	if e.Marker.HasAborted() {
		return
	}

	tams := r.NextTopAtMarkStart()
	chunkWords := e.Config.RebuildChunkWords
	if chunkWords < 1 {
		chunkWords = heap.RegionSizeWords
	}
	chunkBytes := heap.Addr(chunkWords * heap.WordSize)

	var markedWords int64
	chunkStart := r.Bottom
	eagerlyReclaimed := false
	for {
		tars, ok := r.TopAtRebuildStart()
		if !ok {
			eagerlyReclaimed = true
			return
		}
		chunkEnd := chunkStart + chunkBytes
		lo := heap.Max(chunkStart, r.Bottom)
		hi := heap.Min(chunkEnd, tars)
		if lo >= hi {
			break
		}

		var wordsThisChunk int64
		if r.Type() == heap.HumongousStart || r.Type() == heap.HumongousContinues {
			wordsThisChunk = e.rebuildHumongousChunk(r, bitmap, tams, tars, r.Bottom, lo, hi)
		} else {
			wordsThisChunk = e.rebuildChunk(r, bitmap, tams, lo, hi)
		}
		markedWords += wordsThisChunk

		e.Marker.YieldIfRequested()
		if e.Marker.HasAborted() {
			return
		}
		chunkStart = chunkEnd
		if chunkStart >= tars {
			break
		}
	}

	if !eagerlyReclaimed {
		got := markedWords * heap.WordSize
		if want := r.NextMarkedBytes(); want != 0 && got != want {
			panic("remset: rebuild marked-bytes assertion failed for region")
		}
	}
}

// rebuildChunk is the non-humongous path of rebuild_rem_set_in_region: iterate live objects
// intersecting [lo, hi) via a LiveObjIterator and scan each for references,
// installing cross-region ones into the target's RS.
func (e *Engine) rebuildChunk(r *heap.Region, bitmap *heap.MarkBitmap, tams, lo, hi heap.Addr) int64 {
	it := newLiveObjIterator(r.Objects, bitmap, tams, lo, hi)
	var markedWords int64
	for it.HasNext() {
		obj := it.Object()
		scanned := e.scanForReferences(r, obj, lo, hi)
		if obj.Start < tams {
			markedWords += int64(scanned)
		}
		it.MoveToNext()
	}
	return markedWords
}

// rebuildHumongousChunk handles the humongous path of
// rebuild_rem_set_in_region: a single object, possibly spanning several
// regions, is live for rebuild iff marked or allocated during marking
// (tars > tams). regionBottom is r's own bottom (fixed for the whole
// region, not the current chunk's start); only the chunk whose lo equals
// it — i.e. the region's first chunk — credits bytes toward r's own
// marked_words, so a humongous region split across multiple rebuild
// chunks is credited exactly once (spec.md 4.7).
func (e *Engine) rebuildHumongousChunk(r *heap.Region, bitmap *heap.MarkBitmap, tams, tars, regionBottom, lo, hi heap.Addr) int64 {
	obj := e.humongousObject(r)
	if obj == nil {
		return 0
	}
	live := bitmap.IsMarked(obj.Start) || tars > tams
	if !live {
		return 0
	}
	objLo := heap.Max(obj.Start, lo)
	objHi := heap.Min(obj.End(), hi)
	if objLo >= objHi {
		return 0
	}
	for _, ref := range obj.Refs {
		if ref.Slot >= objLo && ref.Slot < objHi {
			recordCrossRegionRef(e.Heap, e.Heap.RegionOf(obj.Start), ref)
		}
	}
	if lo == regionBottom {
		return int64((objHi - objLo) / heap.WordSize)
	}
	return 0
}

// humongousObject resolves the single object a humongous region (start or
// continuation) is part of.
func (e *Engine) humongousObject(r *heap.Region) *heap.Object {
	start := r
	if r.Type() == heap.HumongousContinues {
		start = e.Heap.RegionByIdx(r.HumongousOwner())
	}
	if start == nil {
		return nil
	}
	all := start.Objects.All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// scanForReferences implements spec.md 4.7's scan_for_references: a
// non-array object, or an array that fits entirely in [lo, hi), is scanned
// in full; an array spanning the boundary is scanned only within [lo, hi).
// It returns the word size attributable to this call, for marked_words
// accounting.
func (e *Engine) scanForReferences(r *heap.Region, obj *heap.Object, lo, hi heap.Addr) int {
	if !obj.IsArray || (obj.Start >= lo && obj.End() <= hi) {
		for _, ref := range obj.Refs {
			recordCrossRegionRef(e.Heap, r, ref)
		}
		return obj.Words
	}
	objLo := heap.Max(obj.Start, lo)
	objHi := heap.Min(obj.End(), hi)
	for _, ref := range obj.Refs {
		if ref.Slot >= objLo && ref.Slot < objHi {
			recordCrossRegionRef(e.Heap, r, ref)
		}
	}
	return int((objHi - objLo) / heap.WordSize)
}

// liveObjIterator is a finite, non-restartable walk over the live objects
// of one region intersecting a chunk (spec.md 4.7). Objects strictly below
// tams are live iff bitmap marks them; objects at or above tams are live
// by construction (allocated during the current mark).
type liveObjIterator struct {
	table    *heap.ObjectTable
	bitmap   *heap.MarkBitmap
	tams     heap.Addr
	chunkEnd heap.Addr
	cur      *heap.Object
}

func newLiveObjIterator(table *heap.ObjectTable, bitmap *heap.MarkBitmap, tams, chunkStart, chunkEnd heap.Addr) *liveObjIterator {
	it := &liveObjIterator{table: table, bitmap: bitmap, tams: tams, chunkEnd: chunkEnd}
	obj := table.BlockStart(chunkStart)
	if obj == nil {
		return it
	}
	if obj.Start < chunkStart && !obj.IsArray {
		// Scanned in full by the previous chunk already.
		obj = table.NextAfter(obj)
	}
	it.cur = obj
	it.advanceToLive()
	return it
}

func (it *liveObjIterator) isLive(obj *heap.Object) bool {
	if obj.Start >= it.tams {
		return true
	}
	return it.bitmap.IsMarked(obj.Start)
}

func (it *liveObjIterator) advanceToLive() {
	for it.cur != nil {
		if it.cur.Start >= it.chunkEnd {
			it.cur = nil
			return
		}
		if it.isLive(it.cur) {
			return
		}
		limit := heap.Min(it.tams, it.chunkEnd)
		addr, found := it.bitmap.NextSetBit(it.cur.Start+1, limit)
		if !found {
			it.cur = nil
			return
		}
		it.cur = it.table.BlockStart(addr)
	}
}

// HasNext reports whether another live object remains in the chunk.
func (it *liveObjIterator) HasNext() bool { return it.cur != nil }

// Object returns the current live object.
func (it *liveObjIterator) Object() *heap.Object { return it.cur }

// MoveToNext advances past the current object's extent, skipping dead
// objects below tams via the mark bitmap.
func (it *liveObjIterator) MoveToNext() {
	if it.cur == nil {
		return
	}
	next := it.cur.End()
	if next >= it.chunkEnd {
		it.cur = nil
		return
	}
	if next >= it.tams || it.bitmap.IsMarked(next) {
		it.cur = it.table.BlockStart(next)
		return
	}
	addr, found := it.bitmap.NextSetBit(next+1, heap.Min(it.tams, it.chunkEnd))
	if !found {
		it.cur = nil
		return
	}
	it.cur = it.table.BlockStart(addr)
}
