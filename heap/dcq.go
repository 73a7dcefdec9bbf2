// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "sync"

// DCQBuffer is one bounded buffer of dirty card pointers, filled by a
// single mutator/worker thread before being handed off to a DCQSet.
type DCQBuffer struct {
	Cards []CardIdx
}

// DCQSet aggregates many DCQBuffers, mirroring spec.md 3's DCQ Set: a
// current (partial) buffer per producer plus a queue of completed buffers
// ready for a refiner or the pause-time updater to drain. This module keeps
// exactly one "current" buffer rather than one per OS thread, which is
// sufficient to exercise every operation the engine calls
// (Enqueue/ConcatenateLogs/CompletedBuffersNum/MergeBufferLists/Clear)
// without modeling per-thread TLABs the engine never inspects directly.
type DCQSet struct {
	mu         sync.Mutex
	bufferSize int
	current    *DCQBuffer
	completed  []*DCQBuffer
}

// NewDCQSet returns an empty set whose buffers hold up to bufferSize cards
// before being rotated into the completed list automatically.
func NewDCQSet(bufferSize int) *DCQSet {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &DCQSet{bufferSize: bufferSize}
}

// Enqueue appends c to the current buffer, rotating it into the completed
// list once full.
func (s *DCQSet) Enqueue(c CardIdx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = &DCQBuffer{}
	}
	s.current.Cards = append(s.current.Cards, c)
	if len(s.current.Cards) >= s.bufferSize {
		s.completed = append(s.completed, s.current)
		s.current = nil
	}
}

// ConcatenateLogs absorbs the current partially-filled buffer, if any, into
// the completed list, so a pause-time drain sees every enqueued card even
// if its buffer never filled (spec.md 4.3).
func (s *DCQSet) ConcatenateLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && len(s.current.Cards) > 0 {
		s.completed = append(s.completed, s.current)
		s.current = nil
	}
}

// CompletedBuffersNum reports how many completed buffers are queued.
func (s *DCQSet) CompletedBuffersNum() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// DrainOne removes and returns one completed buffer, if any exist. Multiple
// workers may call this concurrently to divide the drain (spec.md 5.2).
func (s *DCQSet) DrainOne() (*DCQBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completed) == 0 {
		return nil, false
	}
	b := s.completed[0]
	s.completed = s.completed[1:]
	return b, true
}

// MergeBufferLists absorbs every completed buffer from other into s,
// leaving other empty. Used by evacuation-failure rollback (spec.md 6/7) to
// fold the cset-DCQ back into the main DCQS for retry.
func (s *DCQSet) MergeBufferLists(other *DCQSet) {
	other.mu.Lock()
	taken := other.completed
	other.completed = nil
	other.current = nil
	other.mu.Unlock()

	s.mu.Lock()
	s.completed = append(s.completed, taken...)
	s.mu.Unlock()
}

// Clear discards every buffer without processing it.
func (s *DCQSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = nil
	s.current = nil
}
