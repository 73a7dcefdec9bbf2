// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remset

import "region-gc/heap"

// scanStrongCodeRoots is C5: walk r's attached code roots into codeCl once,
// during the first pass over r's RS only (spec.md 4.5). No retries — a
// code root that fails to scan for whatever reason is the caller's
// problem, not this engine's.
func (e *Engine) scanStrongCodeRoots(r *heap.Region, codeCl heap.CodeRootClosure) {
	if codeCl == nil {
		return
	}
	r.StrongCodeRootsDo(codeCl)
}
