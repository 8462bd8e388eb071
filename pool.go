// pool.go: Object pools for Entry and ExtendedDecisionList reuse
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "sync"

// EntryPool reuses *Entry allocations across the insert/update
// copy-on-write path, the same role the teacher's EntryPool plays for
// *CacheEntry. Pooling matters more here than in a generic cache: every
// grant, revoke, audit-toggle and extend event allocates a fresh Entry,
// and allocation failure on this hot path must be non-blocking and
// recoverable (§5), which a sync.Pool gives us for free.
type EntryPool struct {
	pool sync.Pool
}

// NewEntryPool creates a new EntryPool.
func NewEntryPool() *EntryPool {
	return &EntryPool{
		pool: sync.Pool{
			New: func() any { return &Entry{} },
		},
	}
}

// Get returns a zeroed *Entry from the pool. Fields are reset individually
// rather than with a whole-struct assignment, since Entry embeds an
// atomic.Pointer and copying one is unsafe even when nothing else holds
// a reference to it yet.
func (p *EntryPool) Get() *Entry {
	e := p.pool.Get().(*Entry)
	e.Key = Key{}
	e.Decision = Decision{}
	e.Extended = nil
	e.next.Store(nil)
	return e
}

// Put returns entry to the pool. entry must no longer be reachable from
// any bucket or read section — callers only call this from the
// Reclaimer's sweep, after the grace period has elapsed.
func (p *EntryPool) Put(entry *Entry) {
	if entry == nil {
		return
	}
	entry.Key = Key{}
	entry.Decision = Decision{}
	entry.Extended = nil
	entry.next.Store(nil)
	p.pool.Put(entry)
}

// xdlPool is a pool of *ExtendedDecisionList values. The copy-on-write
// update path does not draw from it: ExtendedDecisionList.clone and
// applyEvent allocate their lists directly, and the Reclaimer does not
// return lists to it.
var xdlPool = sync.Pool{
	New: func() any { return &ExtendedDecisionList{} },
}

// getExtendedDecisionList returns a zeroed *ExtendedDecisionList from the
// pool.
func getExtendedDecisionList() *ExtendedDecisionList {
	xl := xdlPool.Get().(*ExtendedDecisionList)
	xl.TypeBitmap = PermBitset{}
	xl.Decisions = xl.Decisions[:0]
	return xl
}

// putExtendedDecisionList returns xl to the pool. xl must no longer be
// reachable from any linked Entry.
func putExtendedDecisionList(xl *ExtendedDecisionList) {
	if xl == nil {
		return
	}
	xl.TypeBitmap = PermBitset{}
	xl.Decisions = xl.Decisions[:0]
	xdlPool.Put(xl)
}
