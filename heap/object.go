// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Ref is one reference-typed field: the address of the slot holding the
// pointer (&f in spec.md 4.2) and the address it currently points at.
type Ref struct {
	Slot   Addr
	Target Addr
}

// Object is a minimal stand-in for the real object model spec.md 1 puts out
// of scope: size, "is array", and field iteration. Refs must be sorted by
// Slot ascending; callers that mutate a live object's fields must keep that
// invariant (tests build a fresh Object per mutation instead).
type Object struct {
	Start   Addr
	Words   int
	IsArray bool
	Refs    []Ref

	sealed atomic.Bool
}

// End returns the address one past the object's last word.
func (o *Object) End() Addr { return o.Start + Addr(o.Words*WordSize) }

// Seal marks the object as fully initialized and parsable. Objects created
// with NewObject start sealed; tests that want to model an in-progress
// allocation (spec.md 4.2's "unparsable tail") construct one with
// NewUnsealedObject and Seal it later.
func (o *Object) Seal() { o.sealed.Store(true) }

func (o *Object) isSealed() bool { return o.sealed.Load() }

// NewObject builds a sealed object.
func NewObject(start Addr, words int, isArray bool, refs []Ref) *Object {
	o := &Object{Start: start, Words: words, IsArray: isArray, Refs: refs}
	o.sealed.Store(true)
	return o
}

// NewUnsealedObject builds an object that reports failure to parse until
// Seal is called, simulating a partially-allocated tail object.
func NewUnsealedObject(start Addr, words int, isArray bool, refs []Ref) *Object {
	return &Object{Start: start, Words: words, IsArray: isArray, Refs: refs}
}

// ObjectTable is a per-region block-offset table stand-in: a sorted set of
// objects supporting BlockStart lookup and range iteration. Real block-
// offset tables are O(1) via card-granularity offset bytes; this is an
// O(log n) binary search, which is the right complexity for the contract
// the engine actually depends on.
type ObjectTable struct {
	mu      sync.RWMutex
	objects []*Object // sorted by Start
}

// NewObjectTable returns an empty table.
func NewObjectTable() *ObjectTable { return &ObjectTable{} }

// Add inserts obj, keeping objects sorted by Start. Not safe to call
// concurrently with BlockStart/ObjectsIntersecting on the same table; all
// mutation happens before/after a pause in practice.
func (t *ObjectTable) Add(obj *Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.objects), func(i int) bool { return t.objects[i].Start >= obj.Start })
	t.objects = append(t.objects, nil)
	copy(t.objects[i+1:], t.objects[i:])
	t.objects[i] = obj
}

// BlockStart returns the object whose range contains addr, or the last
// object starting at or before addr if none contains it exactly (spec.md
// 4.7's R.block_start(chunk.start): "the first object extending into the
// chunk"). Returns nil if addr precedes every known object.
func (t *ObjectTable) BlockStart(addr Addr) *Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.objects), func(i int) bool { return t.objects[i].Start > addr }) - 1
	if i < 0 {
		return nil
	}
	return t.objects[i]
}

// ObjectsIntersecting returns, in ascending Start order, every object
// overlapping [start, end). ok is false if an unsealed (unparsable) object
// is encountered anywhere in the walk, per spec.md 4.2 step 6: "if it
// cannot fully parse, it reports failure." Objects already yielded before
// the failure are still returned, but callers must discard the whole
// result on failure (the source re-dirties and re-enqueues the whole card).
func (t *ObjectTable) ObjectsIntersecting(start, end Addr) (objs []*Object, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	first := sort.Search(len(t.objects), func(i int) bool { return t.objects[i].End() > start })
	ok = true
	for i := first; i < len(t.objects); i++ {
		o := t.objects[i]
		if o.Start >= end {
			break
		}
		if !o.isSealed() {
			ok = false
			break
		}
		objs = append(objs, o)
	}
	return objs, ok
}

// NextAfter returns the object immediately following obj in Start order, or
// nil if obj is the last one. Used by the rebuilder's live-object iterator
// to skip an object that was already scanned by the previous chunk.
func (t *ObjectTable) NextAfter(obj *Object) *Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.objects), func(i int) bool { return t.objects[i].Start > obj.Start })
	if i >= len(t.objects) {
		return nil
	}
	return t.objects[i]
}

// All returns every object in the table, sorted by Start. Used by
// LiveObjIterator and by tests.
func (t *ObjectTable) All() []*Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Object, len(t.objects))
	copy(out, t.objects)
	return out
}
