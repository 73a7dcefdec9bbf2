// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// noopPush discards every slot it's given; used where a caller needs a
// PushClosure but has no evacuator to feed (verification runs never
// evacuate anything).
type noopPush struct{}

func (noopPush) Push(_ heap.Addr) {}

// PrepareForVerify flushes any outstanding dirty-card logs and, if
// FlushLogBuffersOnVerify is configured, re-runs the pause-time updater
// with the hot card cache disabled so verification sees fully-refined RSs
// (spec.md 6). The cache's enabled state is restored afterward, mirroring
// g1RemSet.cpp's save/restore of use_hot_card_cache around the same call,
// so a caller that verifies more than once doesn't lose hot-card caching
// for the rest of the process.
func (e *Engine) PrepareForVerify() {
	e.MainDCQ.ConcatenateLogs()
	if !e.Config.FlushLogBuffersOnVerify {
		return
	}
	wasEnabled := e.HotCache.Enabled()
	e.HotCache.Disable()
	e.updateRS(noopPush{})
	if wasEnabled {
		e.HotCache.Enable()
	}
}

// CleanupHRRS delegates to the RS container's own cleanup, run before
// verification or after a marking cycle (spec.md 6). The container this
// engine consumes has no static state to reclaim beyond per-region
// iteration bookkeeping, so this resets that.
func (e *Engine) CleanupHRRS() {
	for _, r := range e.Heap.Regions {
		r.RS.ResetIter()
	}
}
