// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "sync/atomic"

// HotCardCache is a fixed-capacity, round-robin, evicting buffer of
// dirty cards (spec.md 3). It exists to delay the scan of repeatedly
// dirtied "hot" cards, on the theory that a card dirtied again soon will
// just have to be rescanned anyway.
type HotCardCache struct {
	enabled atomic.Bool
	slots   []atomic.Uint64 // 0 = empty, else CardIdx+1
	cursor  atomic.Uint64
}

// NewHotCardCache returns a cache with room for capacity cards. A
// capacity of 0, or enabled=false, makes every Insert a bypass.
func NewHotCardCache(capacity int, enabled bool) *HotCardCache {
	c := &HotCardCache{}
	c.enabled.Store(enabled && capacity > 0)
	if capacity > 0 {
		c.slots = make([]atomic.Uint64, capacity)
	}
	return c
}

// InsertResult classifies the outcome of Insert.
type InsertResult int

const (
	// Bypass means the cache is disabled; scan c now.
	Bypass InsertResult = iota
	// Buffered means c was stored with no eviction; do nothing now.
	Buffered
	// Evicted means some other card was evicted to make room for c;
	// scan the evicted card now.
	Evicted
)

// Insert stores c in the cache, evicting an older occupant of the same slot
// if necessary. It returns the card the caller should process immediately
// (0 if none) and how the insert was resolved.
func (c *HotCardCache) Insert(card CardIdx) (toProcess CardIdx, result InsertResult) {
	if !c.enabled.Load() {
		return card, Bypass
	}
	idx := c.cursor.Add(1) - 1
	slot := &c.slots[idx%uint64(len(c.slots))]
	old := slot.Swap(uint64(card) + 1)
	if old == 0 {
		return 0, Buffered
	}
	return CardIdx(old - 1), Evicted
}

// Capacity returns the number of slots this cache was constructed with.
func (c *HotCardCache) Capacity() int { return len(c.slots) }

// Enabled reports whether the cache is currently active.
func (c *HotCardCache) Enabled() bool { return c.enabled.Load() }

// Disable turns the cache into a bypass, as G1HRRSFlushLogBuffersOnVerify's
// "hot cache disabled" verify path does (spec.md 6). Callers that need to
// restore the prior state afterward (spec.md 6, verify) should read
// Enabled() before calling Disable() and call Enable() again if it was
// true.
func (c *HotCardCache) Disable() { c.enabled.Store(false) }

// Enable turns the cache back on, provided it has room for at least one
// entry. Pairs with Disable() to let a caller temporarily suspend caching
// (e.g. around a verify-time RS update) and restore it afterward, matching
// hot_card_cache->set_use_cache(...) in the original implementation.
func (c *HotCardCache) Enable() {
	if len(c.slots) > 0 {
		c.enabled.Store(true)
	}
}
