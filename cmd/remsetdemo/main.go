// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command remsetdemo drives a small region-gc engine through a concurrent
// refinement loop, a simulated evacuation pause, and a rebuild, printing
// summary stats along the way.
package main

import (
	"flag"
	"log"
	"sync"
	"time"

	"region-gc/heap"
	"region-gc/remset"
)

func main() {
	var (
		regions      = flag.Int("regions", 8, "number of regions to reserve")
		refiners     = flag.Int("refiners", 4, "number of concurrent refiner goroutines")
		gcThreads    = flag.Int("gc-threads", 4, "worker goroutines used during a pause and during rebuild")
		hotCacheSize = flag.Int("hot-cache", 64, "hot card cache capacity, 0 to disable")
		blockSize    = flag.Int("scan-block", 32, "cards claimed per RS-scan step")
	)
	flag.Parse()

	cfg := remset.DefaultConfig()
	cfg.ParallelGCThreads = *gcThreads
	cfg.RSetScanBlockSize = *blockSize

	h := heap.NewHeap(0, *regions)
	for i, r := range h.Regions {
		r.SetType(heap.Old)
		r.SetTop(r.Bottom + heap.RegionSize)
		if i%3 == 0 {
			r.SetInCollectionSet(true)
		}
	}
	populateDemoObjects(h)

	mainDCQ := heap.NewDCQSet(64)
	csetDCQ := heap.NewDCQSet(64)
	hotCache := heap.NewHotCardCache(*hotCacheSize, *hotCacheSize > 0)

	e := remset.NewEngine(h, mainDCQ, csetDCQ, hotCache, heap.NeverAbortScheduler{}, cfg)

	log.Printf("reserved %d regions, %d cards each", *regions, heap.RegionSize/heap.CardSize)

	runConcurrentRefinement(e, h, *refiners)
	log.Printf("after concurrent refinement: %s", e.PrintPeriodicSummaryInfo())

	runPause(e, h, *gcThreads)
	log.Printf("after pause: %s", e.PrintPeriodicSummaryInfo())

	bitmap := heap.NewMarkBitmap()
	for _, r := range h.Regions {
		bitmap.Mark(r.Bottom)
		r.SetNextTopAtMarkStart(r.Bottom)
		r.SetTopAtRebuildStart(r.Top())
	}
	e.RebuildRemSet(bitmap, *gcThreads, 0)
	log.Printf("after rebuild: %s", e.PrintSummaryInfo())
}

// populateDemoObjects seeds every region with one object holding a
// reference into the next region, so refinement and scanning both have
// cross-region work to do.
func populateDemoObjects(h *heap.Heap) {
	n := len(h.Regions)
	for i, r := range h.Regions {
		next := h.Regions[(i+1)%n]
		slot := r.Bottom + heap.Addr(heap.WordSize)
		obj := heap.NewObject(r.Bottom, heap.RegionSizeWords, false, []heap.Ref{
			{Slot: slot, Target: next.Bottom},
		})
		r.Objects.Add(obj)
		card := heap.CardIndex(slot)
		h.Cards.Set(card, heap.Dirty)
	}
}

// runConcurrentRefinement drains every dirty card in the heap across
// refiners goroutines, simulating what would otherwise be background
// refiner threads racing mutators.
func runConcurrentRefinement(e *remset.Engine, h *heap.Heap, refiners int) {
	dirty := make(chan heap.CardIdx, h.Cards.NumCards())
	for i := 0; i < h.Cards.NumCards(); i++ {
		c := heap.CardIdx(i)
		if h.Cards.Get(c) == heap.Dirty {
			dirty <- c
		}
	}
	close(dirty)

	var wg sync.WaitGroup
	for w := 0; w < refiners; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for c := range dirty {
				e.RefineCardConcurrently(c, worker)
			}
		}(w)
	}
	wg.Wait()
}

// runPause simulates one evacuation pause: prepare, run every worker's
// OopsIntoCollectionSetDo concurrently, then clean up.
func runPause(e *remset.Engine, h *heap.Heap, workers int) {
	start := time.Now()
	e.PrepareForOopsIntoCollectionSetDo()

	var wg sync.WaitGroup
	push := remset.PushClosureFunc(func(slot heap.Addr) {})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.OopsIntoCollectionSetDo(worker, push, nil)
		}(w)
	}
	wg.Wait()

	e.CleanupAfterOopsIntoCollectionSetDo(false)
	log.Printf("pause took %s", time.Since(start))
}
