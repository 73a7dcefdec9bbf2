// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import (
	"sync"
	"sync/atomic"

	"region-gc/heap"
)

// EngineConfig collects the tunables spec.md 6 lists as read-only inputs
// to the engine. Callers construct one and never mutate it afterward.
type EngineConfig struct {
	// RSetScanBlockSize is the number of cards a single cset-scan worker
	// claims at a time from one region's RS (spec.md 4.4). Must be >= 1.
	RSetScanBlockSize int
	// SummarizeRSetStats enables periodic C8 summaries.
	SummarizeRSetStats bool
	// RebuildChunkWords is the chunk size, in words, C7 iterates in
	// (G1RebuildRemSetChunkSize).
	RebuildChunkWords int
	// FlushLogBuffersOnVerify mirrors G1HRRSFlushLogBuffersOnVerify.
	FlushLogBuffersOnVerify bool
	// ParallelGCThreads sizes the per-worker scanned-card counters of a
	// pause; 0 or 1 means a single counter. Scans by a worker id at or
	// above it are not counted. The engine starts no goroutines for a
	// pause, and RebuildRemSet takes its worker count as an argument.
	ParallelGCThreads int
}

// DefaultConfig returns reasonable defaults for tests and the demo driver.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		RSetScanBlockSize:       64,
		SummarizeRSetStats:      true,
		RebuildChunkWords:       heap.RegionSizeWords / 4,
		FlushLogBuffersOnVerify: false,
		ParallelGCThreads:       4,
	}
}

// Engine is the remembered-set maintenance engine: C2 through C8 of
// SPEC_FULL.md. It holds non-owning references to its collaborators
// (spec.md 9, "Global mutable state") and never frees them.
type Engine struct {
	Heap     *heap.Heap
	MainDCQ  *heap.DCQSet
	CsetDCQ  *heap.DCQSet
	HotCache *heap.HotCardCache
	Marker   heap.MarkingScheduler
	Config   EngineConfig

	concEnqueueEnabled atomic.Bool

	// Counters, read by Summary (C8).
	concRefinedCards  atomic.Int64
	totalCardsScanned atomic.Int64
	hotCacheHits      atomic.Int64
	hotCacheEvictions atomic.Int64

	// cardsScanned is allocated fresh by PrepareForOopsIntoCollectionSetDo
	// and summed by CleanupAfterOopsIntoCollectionSetDo (spec.md 6).
	pauseMu      sync.Mutex
	cardsScanned []int64
	dirtyRegions map[heap.RegionIdx]*heap.Region

	prevSummary Summary
}

// NewEngine constructs an engine over the given collaborators.
func NewEngine(h *heap.Heap, mainDCQ, csetDCQ *heap.DCQSet, hotCache *heap.HotCardCache, marker heap.MarkingScheduler, cfg EngineConfig) *Engine {
	if marker == nil {
		marker = heap.NeverAbortScheduler{}
	}
	e := &Engine{
		Heap:     h,
		MainDCQ:  mainDCQ,
		CsetDCQ:  csetDCQ,
		HotCache: hotCache,
		Marker:   marker,
		Config:   cfg,
	}
	e.concEnqueueEnabled.Store(true)
	if cfg.SummarizeRSetStats {
		e.prevSummary = e.snapshotSummary()
	}
	return e
}

// recordCrossRegionRef installs slot's card into target's owning region's
// RS, provided target lies in a different region than self and that region
// exists. Self-references (a field pointing back within the same region)
// are never recorded, matching spec.md 4.2 step 6's "reference field ...
// whose target lies in a region other than r". Shared verbatim by C2, C3,
// and C7, which all install cross-region references the same way.
func recordCrossRegionRef(h *heap.Heap, self *heap.Region, ref heap.Ref) {
	target := h.RegionOf(ref.Target)
	if target == nil || target == self {
		return
	}
	target.RS.Insert(heap.CardIndex(ref.Slot))
}

// ConcurrentEnqueuingEnabled reports whether concurrent refinement should
// currently be enqueuing work, i.e. whether a pause is not in the
// prepare/scan window. The engine itself does not own refiner thread
// lifecycle (spec.md 9's "Global mutable state" note: it holds non-owning
// references), so this is advisory for the caller.
func (e *Engine) ConcurrentEnqueuingEnabled() bool {
	return e.concEnqueueEnabled.Load()
}

func (e *Engine) nWorkers() int {
	if e.Config.ParallelGCThreads < 1 {
		return 1
	}
	return e.Config.ParallelGCThreads
}
