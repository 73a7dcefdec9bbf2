// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

// RegionSizeWords is the size of one region in words. Kept small so tests
// can build multi-region heaps cheaply.
const RegionSizeWords = 4096

// RegionSize is the size of one region in bytes.
const RegionSize = RegionSizeWords * WordSize

// Heap owns the region table and the card table backing it, and answers the
// address-to-region and collection-set membership questions the engine
// needs. It does not choose regions, allocate objects, or evacuate anything
// — those are explicitly out of scope (spec.md 1).
type Heap struct {
	Regions []*Region
	Cards   *CardTable
	base    Addr
}

// NewHeap reserves nRegions contiguous regions starting at base, all Free.
func NewHeap(base Addr, nRegions int) *Heap {
	h := &Heap{base: base}
	nCards := nRegions * RegionSize / CardSize
	h.Cards = NewCardTable(nCards)
	h.Regions = make([]*Region, nRegions)
	for i := range h.Regions {
		h.Regions[i] = NewRegion(RegionIdx(i), base+Addr(i*RegionSize))
	}
	return h
}

// RegionOf returns the region containing a, or nil if a falls outside the
// reserved heap.
func (h *Heap) RegionOf(a Addr) *Region {
	if a < h.base {
		return nil
	}
	idx := int((a - h.base) / RegionSize)
	if idx < 0 || idx >= len(h.Regions) {
		return nil
	}
	return h.Regions[idx]
}

// RegionByIdx returns the region at idx, or nil if out of range.
func (h *Heap) RegionByIdx(idx RegionIdx) *Region {
	if idx < 0 || int(idx) >= len(h.Regions) {
		return nil
	}
	return h.Regions[idx]
}

// InCollectionSet reports whether a's region is part of the current cset.
func (h *Heap) InCollectionSet(a Addr) bool {
	r := h.RegionOf(a)
	return r != nil && r.InCollectionSet()
}

// CollectionSet returns the regions currently marked InCollectionSet, in
// index order.
func (h *Heap) CollectionSet() []*Region {
	var cs []*Region
	for _, r := range h.Regions {
		if r.InCollectionSet() {
			cs = append(cs, r)
		}
	}
	return cs
}
