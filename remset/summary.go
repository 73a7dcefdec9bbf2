// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "fmt"

// Summary is a snapshot of the engine's counters (spec.md 4.8's
// RSetSummary): cards refined concurrently, cards scanned during pauses,
// hot-cache hits/evictions, and total remembered-set size across every
// region. It carries no behavior of its own beyond arithmetic; the engine
// decides when to snapshot, subtract, and store.
type Summary struct {
	ConcRefinedCards  int64
	CardsScanned      int64
	HotCacheHits      int64
	HotCacheEvictions int64
	TotalRSCards      int64
}

// Sub returns the pointwise delta s - prev, spec.md 4.8's subtract_from.
func (s Summary) Sub(prev Summary) Summary {
	return Summary{
		ConcRefinedCards:  s.ConcRefinedCards - prev.ConcRefinedCards,
		CardsScanned:      s.CardsScanned - prev.CardsScanned,
		HotCacheHits:      s.HotCacheHits - prev.HotCacheHits,
		HotCacheEvictions: s.HotCacheEvictions - prev.HotCacheEvictions,
		TotalRSCards:      s.TotalRSCards - prev.TotalRSCards,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"conc_refined=%d cards_scanned=%d hot_hits=%d hot_evictions=%d total_rs_cards=%d",
		s.ConcRefinedCards, s.CardsScanned, s.HotCacheHits, s.HotCacheEvictions, s.TotalRSCards,
	)
}

// snapshotSummary builds a Summary from the engine's current counters.
func (e *Engine) snapshotSummary() Summary {
	var totalRS int64
	for _, r := range e.Heap.Regions {
		totalRS += int64(r.RS.Len())
	}
	return Summary{
		ConcRefinedCards:  e.concRefinedCards.Load(),
		CardsScanned:      e.totalCardsScanned.Load(),
		HotCacheHits:      e.hotCacheHits.Load(),
		HotCacheEvictions: e.hotCacheEvictions.Load(),
		TotalRSCards:      totalRS,
	}
}

// PrintSummaryInfo returns the current cumulative Summary, formatted. It is
// named to match spec.md 6's print_summary_info; unlike the source, it
// returns text rather than writing to a log stream itself, since a library
// package should not log on its caller's behalf (SPEC_FULL.md's ambient
// logging decision) — cmd/remsetdemo is the one place that actually prints
// it.
func (e *Engine) PrintSummaryInfo() string {
	return e.snapshotSummary().String()
}

// PrintPeriodicSummaryInfo computes the delta since the last call (or since
// construction, for the first call), stores the new snapshot as the
// baseline for next time, and returns the delta formatted.
func (e *Engine) PrintPeriodicSummaryInfo() string {
	current := e.snapshotSummary()
	delta := current.Sub(e.prevSummary)
	e.prevSummary = current
	return delta.String()
}
