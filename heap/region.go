// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "sync/atomic"

// RegionType classifies a heap region. The zero value is Free.
type RegionType uint32

const (
	Free RegionType = iota
	Young
	Old
	HumongousStart
	HumongousContinues
)

// IsOldOrHumongous reports whether t is a type the refiner and pause-time
// updater treat as a valid RS-update target (spec.md 4.1's relevant_type).
func (t RegionType) IsOldOrHumongous() bool {
	return t == Old || t == HumongousStart || t == HumongousContinues
}

// RegionIdx identifies a region by its position in the heap's region table.
type RegionIdx int32

// NoRegion is the sentinel RegionIdx returned when an address has no owning
// region (e.g. it falls outside the reserved heap).
const NoRegion RegionIdx = -1

// CodeRootClosure is invoked once per strong code root pointer a region
// carries (spec.md 4.5). It is the Go analogue of the source's
// CodeBlobClosure.
type CodeRootClosure interface {
	DoCodeRoot(root CodeRoot)
}

// CodeRootClosureFunc adapts a function to a CodeRootClosure.
type CodeRootClosureFunc func(CodeRoot)

func (f CodeRootClosureFunc) DoCodeRoot(root CodeRoot) { f(root) }

// CodeRoot is an opaque handle standing in for a compiled method whose
// generated code embeds heap pointers directly (spec.md 4.5).
type CodeRoot struct {
	ID   uint64
	Refs []Addr
}

// Region is a fixed-size heap partition. Region type is read without a lock
// from concurrent refiner threads; spec.md 9's "is_old_or_humongous race"
// note models this as an atomic load/store pair with acquire/release
// semantics, which is exactly what Go's sync/atomic.Uint32 provides.
type Region struct {
	Idx RegionIdx

	typ atomic.Uint32

	Bottom Addr
	top    atomic.Uint64 // current allocation frontier
	// scanTop bounds parsability during a pause; 0 means "use Top()".
	scanTop atomic.Uint64

	inCset atomic.Bool

	// onDirtyList tracks membership in the post-pause "dirty cards
	// region" list (spec.md 4.4 step 3): regions whose card bytes still
	// need cleaning after the scan finishes.
	onDirtyList atomic.Bool

	RS      *RemSet
	Objects *ObjectTable

	codeRoots   []CodeRoot
	humongousID RegionIdx // for HumongousContinues, the owning start region

	// nextTAMS / TARS are watermarks published by marking (spec.md 3);
	// consumed, never computed, by this package.
	nextTAMS        atomic.Uint64
	tars            atomic.Uint64
	tarsSet         atomic.Bool
	nextMarkedBytes atomic.Int64
}

// NewRegion constructs a free region spanning [bottom, bottom+size).
func NewRegion(idx RegionIdx, bottom Addr) *Region {
	r := &Region{Idx: idx, Bottom: bottom, humongousID: NoRegion}
	r.RS = NewRemSet()
	r.Objects = NewObjectTable()
	return r
}

// NextTopAtMarkStart returns TAMS: the address above which everything is
// implicitly live because it was allocated during the current mark.
func (r *Region) NextTopAtMarkStart() Addr { return Addr(r.nextTAMS.Load()) }

// SetNextTopAtMarkStart publishes TAMS, done once when marking begins.
func (r *Region) SetNextTopAtMarkStart(a Addr) { r.nextTAMS.Store(uint64(a)) }

// TopAtRebuildStart returns TARS and whether it is set at all. An unset
// TARS means the region was eagerly reclaimed and rebuild must skip it
// (spec.md 4.7).
func (r *Region) TopAtRebuildStart() (Addr, bool) {
	if !r.tarsSet.Load() {
		return 0, false
	}
	return Addr(r.tars.Load()), true
}

// SetTopAtRebuildStart publishes TARS.
func (r *Region) SetTopAtRebuildStart(a Addr) {
	r.tars.Store(uint64(a))
	r.tarsSet.Store(true)
}

// ClearTopAtRebuildStart marks the region eagerly reclaimed: rebuild will
// observe TopAtRebuildStart's ok=false and abandon this region immediately.
func (r *Region) ClearTopAtRebuildStart() {
	r.tarsSet.Store(false)
}

// NextMarkedBytes returns the marked-byte count marking recorded for this
// region, consumed only by C7's end-of-region assertion.
func (r *Region) NextMarkedBytes() int64 { return r.nextMarkedBytes.Load() }

// SetNextMarkedBytes publishes the marked-byte count for this region.
func (r *Region) SetNextMarkedBytes(b int64) { r.nextMarkedBytes.Store(b) }

// SetHumongousOwner records idx as the humongous-start region owning this
// region's object, for HumongousContinues regions. Set once at humongous
// allocation time, before the region's type is published.
func (r *Region) SetHumongousOwner(idx RegionIdx) { r.humongousID = idx }

// HumongousOwner returns the humongous-start region owning this region's
// object (meaningful only when Type() == HumongousContinues).
func (r *Region) HumongousOwner() RegionIdx { return r.humongousID }

// Type loads the region's type with acquire semantics.
func (r *Region) Type() RegionType { return RegionType(r.typ.Load()) }

// SetType stores the region's type with release semantics, publishing the
// region's birth (or reclamation) to concurrent readers.
func (r *Region) SetType(t RegionType) { r.typ.Store(uint32(t)) }

// Top returns the current allocation frontier.
func (r *Region) Top() Addr { return Addr(r.top.Load()) }

// SetTop publishes a new allocation frontier. Humongous regions call this
// last, after all object fields are initialized, per spec.md 4.1's ordering
// note about "set-top-last" publication.
func (r *Region) SetTop(a Addr) { r.top.Store(uint64(a)) }

// ScanTop returns the pause-time parsability bound, i.e. spec.md's
// scan_top(). If none was set for the current pause it falls back to Top(),
// matching the source's ScanTop.
func (r *Region) ScanTop() Addr {
	v := r.scanTop.Load()
	if v == 0 {
		return r.Top()
	}
	return Addr(v)
}

// SetScanTop pins the pause-time parsability bound. Called once per region
// at the start of a pause; a zero value clears the pin.
func (r *Region) SetScanTop(a Addr) { r.scanTop.Store(uint64(a)) }

// InCollectionSet reports whether the region is currently part of the cset.
func (r *Region) InCollectionSet() bool { return r.inCset.Load() }

// SetInCollectionSet marks or unmarks the region as part of the cset.
func (r *Region) SetInCollectionSet(v bool) { r.inCset.Store(v) }

// AddCodeRoot attaches a strong code root to the region.
func (r *Region) AddCodeRoot(root CodeRoot) {
	r.codeRoots = append(r.codeRoots, root)
}

// StrongCodeRootsDo invokes cl once for each attached code root (spec.md
// 4.5). Not safe to call concurrently with AddCodeRoot; both only happen at
// safepoints in practice.
func (r *Region) StrongCodeRootsDo(cl CodeRootClosure) {
	for _, root := range r.codeRoots {
		cl.DoCodeRoot(root)
	}
}

// IsHumongousContinues reports whether this region is a tail slice of a
// humongous object living in another region.
func (r *Region) IsHumongousContinues() bool { return r.Type() == HumongousContinues }

// MarkOnDirtyCardsRegionList records the region as needing card-table
// cleanup after the pause. Reports true the first time it's called since
// the last ClearDirtyCardsRegionListMark, matching the source's
// is_on_dirty_cards_region_list/push_dirty_cards_region pair.
func (r *Region) MarkOnDirtyCardsRegionList() bool {
	return r.onDirtyList.CompareAndSwap(false, true)
}

// IsOnDirtyCardsRegionList reports whether the region is already recorded.
func (r *Region) IsOnDirtyCardsRegionList() bool { return r.onDirtyList.Load() }

// ClearDirtyCardsRegionListMark resets the marker for the next pause.
func (r *Region) ClearDirtyCardsRegionListMark() { r.onDirtyList.Store(false) }
