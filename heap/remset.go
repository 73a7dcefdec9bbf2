// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"sync"
	"sync/atomic"
)

// RemSet is a single region's remembered set: an unordered collection of
// card indices, each naming a card in some other region whose contents may
// point into this region. spec.md 3 requires it be internally thread-safe
// for insert (any worker may add to any region's RS) and to support a
// single exclusive iteration pass per collection pause, claimed in blocks so
// several workers can drain one region's RS concurrently.
type RemSet struct {
	mu    sync.RWMutex
	cards map[CardIdx]struct{}

	// Iteration state for one pass (spec.md's claim_iter / iter_claimed_next
	// / iter_is_complete). snapshot is built once, on the first claim, so
	// that concurrent inserts during the pass don't perturb in-flight rank
	// arithmetic; new inserts still land in cards for the *next* pass.
	claimed   atomic.Bool
	complete  atomic.Bool
	nextRank  atomic.Int64
	snapshot  []CardIdx
	snapOnce  sync.Once
}

// NewRemSet returns an empty remembered set.
func NewRemSet() *RemSet {
	return &RemSet{cards: make(map[CardIdx]struct{})}
}

// Insert adds c to the set. Reports whether c was newly added.
func (rs *RemSet) Insert(c CardIdx) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.cards[c]; ok {
		return false
	}
	rs.cards[c] = struct{}{}
	return true
}

// Contains reports whether c is currently a member.
func (rs *RemSet) Contains(c CardIdx) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.cards[c]
	return ok
}

// Len returns the current number of entries.
func (rs *RemSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.cards)
}

// Iterate calls fn for every card currently in the set, stopping early if
// fn returns false. Used outside a claimed pass (e.g. by the summary and by
// tests), never by the cset scanner, which uses the claimed-block protocol
// below.
func (rs *RemSet) Iterate(fn func(CardIdx) bool) {
	rs.mu.RLock()
	cards := make([]CardIdx, 0, len(rs.cards))
	for c := range rs.cards {
		cards = append(cards, c)
	}
	rs.mu.RUnlock()
	for _, c := range cards {
		if !fn(c) {
			return
		}
	}
}

// ClaimIter attempts to become the (single) worker that drives the first
// pass of iteration over this RS for the current period. Reports whether
// the claim succeeded; a false result means some other worker already owns
// this pass and the caller should move on (spec.md 4.4 step 2).
func (rs *RemSet) ClaimIter() bool {
	if !rs.claimed.CompareAndSwap(false, true) {
		return false
	}
	rs.snapOnce.Do(rs.buildSnapshot)
	return true
}

func (rs *RemSet) buildSnapshot() {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rs.snapshot = make([]CardIdx, 0, len(rs.cards))
	for c := range rs.cards {
		rs.snapshot = append(rs.snapshot, c)
	}
}

// IterClaimedNext returns the starting rank of the next unclaimed block of
// up to blockSize cards in the current pass's snapshot, and whether such a
// block exists. Multiple workers may call this concurrently for the same
// RS (spec.md 4.4 step 4); each rank is handed out to exactly one caller.
func (rs *RemSet) IterClaimedNext(blockSize int) (jump int, ok bool) {
	if blockSize < 1 {
		blockSize = 1
	}
	n := int64(len(rs.snapshot))
	start := rs.nextRank.Add(int64(blockSize)) - int64(blockSize)
	if start >= n {
		return 0, false
	}
	return int(start), true
}

// SnapshotLen returns the length of the current pass's claimed snapshot.
// Only meaningful after ClaimIter has been called by some worker.
func (rs *RemSet) SnapshotLen() int {
	return len(rs.snapshot)
}

// CardAt returns the card index at rank i of the current pass's snapshot.
func (rs *RemSet) CardAt(i int) CardIdx {
	return rs.snapshot[i]
}

// IterIsComplete reports whether the current pass has been marked complete.
func (rs *RemSet) IterIsComplete() bool { return rs.complete.Load() }

// SetIterComplete marks the current pass complete. Claim state is left as
// is; ResetIter clears it so a future pass can run. Release semantics ensure a second-pass worker observes every
// insert the first pass performed, per spec.md 5's release/acquire note.
func (rs *RemSet) SetIterComplete() {
	rs.complete.Store(true)
}

// ResetIter clears iteration state so a fresh pass can begin. Called by the
// engine when a region enters a new collection pause.
func (rs *RemSet) ResetIter() {
	rs.claimed.Store(false)
	rs.complete.Store(false)
	rs.nextRank.Store(0)
	rs.snapshot = nil
	rs.snapOnce = sync.Once{}
}

// Scrub removes entries whose referring card or referring region is dead,
// per the live bitmaps produced by marking (spec.md 4.6). isLive reports,
// for a given card index, whether that card's referring region is live and
// the card itself intersects a live object.
func (rs *RemSet) Scrub(isLive func(CardIdx) bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for c := range rs.cards {
		if !isLive(c) {
			delete(rs.cards, c)
		}
	}
}

// Clear removes every entry, used when a region is reallocated.
func (rs *RemSet) Clear() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.cards = make(map[CardIdx]struct{})
	rs.ResetIter()
}
