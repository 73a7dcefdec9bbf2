// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

// MarkingScheduler is the concurrent marking subsystem's contract with the
// RS rebuilder (spec.md 4.7/5): a cooperative yield point and an abort
// flag. Only these two operations are consumed; everything else about
// marking is out of scope.
type MarkingScheduler interface {
	// YieldIfRequested cooperatively suspends the calling worker if a
	// safepoint has been requested, and resumes it once the safepoint
	// ends. Implementations should be safe to call frequently.
	YieldIfRequested()
	// HasAborted reports whether the current marking cycle has been
	// aborted (e.g. by a concurrent full GC) and rebuild work should stop.
	HasAborted() bool
}

// NeverAbortScheduler is a MarkingScheduler that never yields and never
// aborts, suitable for tests and the demo driver that don't exercise
// safepoint preemption.
type NeverAbortScheduler struct{}

func (NeverAbortScheduler) YieldIfRequested() {}
func (NeverAbortScheduler) HasAborted() bool  { return false }

// FlagScheduler is a MarkingScheduler whose abort state a test can flip at
// will, used to exercise spec.md 8 scenario 6 (rebuild abort).
type FlagScheduler struct {
	Aborted bool
	Yields  int
}

func (s *FlagScheduler) YieldIfRequested() { s.Yields++ }
func (s *FlagScheduler) HasAborted() bool  { return s.Aborted }
