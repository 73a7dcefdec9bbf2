// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remset implements the remembered-set maintenance engine: the
// bridge between mutator stores and the evacuation algorithm of a
// region-partitioned, generational, mostly-concurrent collector. See
// SPEC_FULL.md for the full component breakdown (C1-C8).
package remset

import "region-gc/heap"

// PushClosure receives one field slot address whose current target lies in
// the collection set. Concrete implementations queue the slot for the
// evacuator; this package only ever calls Push, never inspects it further.
type PushClosure interface {
	Push(slot heap.Addr)
}

// PushClosureFunc adapts a function to a PushClosure.
type PushClosureFunc func(heap.Addr)

func (f PushClosureFunc) Push(slot heap.Addr) { f(slot) }
