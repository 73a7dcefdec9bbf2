// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import (
	"sync"
	"sync/atomic"

	"region-gc/heap"
)

// isLiveCard reports whether card c, viewed as an RS entry, still refers to
// a live object: its own region must have survived marking and the card
// itself must intersect a live object (spec.md 4.6).
func (e *Engine) isLiveCard(regionBM *heap.RegionBitmap, cardBM *heap.CardBitmap, c heap.CardIdx) bool {
	r := e.Heap.RegionOf(addrFor(c))
	if r == nil {
		return false
	}
	if !regionBM.IsAlive(r.Idx) {
		return false
	}
	return cardBM.IsAlive(c)
}

// Scrub is C6, run serially: for every heap region that isn't a humongous
// continuation, drop RS entries whose referring region or card didn't
// survive marking.
func (e *Engine) Scrub(regionBM *heap.RegionBitmap, cardBM *heap.CardBitmap) {
	for _, r := range e.Heap.Regions {
		if r.IsHumongousContinues() {
			continue
		}
		r.RS.Scrub(func(c heap.CardIdx) bool {
			return e.isLiveCard(regionBM, cardBM, c)
		})
	}
}

// ScrubPar is the parallel variant of Scrub, sharding regions across
// numWorkers goroutines via a claimed atomic index, mirroring
// heap_region_par_iterate_chunked's claim-value protocol.
func (e *Engine) ScrubPar(regionBM *heap.RegionBitmap, cardBM *heap.CardBitmap, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	var next atomic.Int64
	var wg sync.WaitGroup
	regions := e.Heap.Regions
	n := int64(len(regions))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= n {
					return
				}
				r := regions[i]
				if r.IsHumongousContinues() {
					continue
				}
				r.RS.Scrub(func(c heap.CardIdx) bool {
					return e.isLiveCard(regionBM, cardBM, c)
				})
			}
		}()
	}
	wg.Wait()
}
