// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// Phase distinguishes the concurrent refiner from the pause-time updater,
// which differ in scan_limit source and cset filtering (spec.md 4.1).
type Phase int

const (
	PhaseConcurrent Phase = iota
	PhasePause
)

// isDirty reports whether card c's byte is Dirty.
func isDirty(ct *heap.CardTable, c heap.CardIdx) bool {
	return ct.Get(c) == heap.Dirty
}

// addrFor returns the start address of card c's heap range.
func addrFor(c heap.CardIdx) heap.Addr {
	return heap.CardAddr(c)
}

// regionOf returns the region containing addr, or nil.
func regionOf(h *heap.Heap, addr heap.Addr) *heap.Region {
	return h.RegionOf(addr)
}

// relevantType reports whether r is a valid RS-update target for phase:
// old/humongous during concurrent refinement, and additionally not in the
// collection set during a pause (spec.md 4.1).
func relevantType(r *heap.Region, phase Phase) bool {
	if r == nil {
		return false
	}
	if !r.Type().IsOldOrHumongous() {
		return false
	}
	if phase == PhasePause && r.InCollectionSet() {
		return false
	}
	return true
}

// trim computes the dirty region [start, min(scanLimit, start+CardSize))
// for card c against region r under phase, and reports whether the card is
// stale (scanLimit <= start), per spec.md 4.1.
func trim(c heap.CardIdx, r *heap.Region, phase Phase) (start, end heap.Addr, stale bool) {
	start = addrFor(c)
	var scanLimit heap.Addr
	if phase == PhaseConcurrent {
		scanLimit = r.Top()
	} else {
		scanLimit = r.ScanTop()
	}
	if scanLimit <= start {
		return start, start, true
	}
	end = heap.Min(scanLimit, start+heap.CardSize)
	return start, end, false
}
