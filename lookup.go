// lookup.go: Read-path lookup, miss resolution, and soft-bound eviction
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "sync/atomic"

// ReclaimBatch is the number of entries unlinked from a single bucket on
// one eviction pass, matching spec.md §4.4.
const ReclaimBatch = 16

// PolicyEngine is the external collaborator that computes authoritative
// decisions. The cache package never implements it — callers supply one
// backed by whatever the real access-control policy is (§1's "Out of
// scope: the policy engine").
type PolicyEngine interface {
	// ComputeAV computes the primary decision for key.
	ComputeAV(key Key) (Decision, *ExtendedDecisionList, error)

	// ComputeExtended computes a single ExtendedDecision for the given
	// (S,T,C) and operation type.
	ComputeExtended(key Key, opType uint8) (*ExtendedDecision, error)
}

// LookupCore is the read path: hash, search one bucket, and either
// return the cached Entry or fall through to the policy engine on miss.
// It owns active_count and lru_hint, the two fields spec.md §4.4 and §5
// call out as plain atomic counters independent of any lock.
type LookupCore struct {
	table   *BucketTable
	reclaim *Reclaimer
	stats   *Stats
	policy  PolicyEngine
	notify  *NotificationProtocol
	entries *EntryPool

	threshold int64

	activeCount atomic.Int64
	lruHint     atomic.Uint32
}

// NewLookupCore builds a LookupCore over the given table, reclaimer and
// policy engine. threshold is the soft entry-count bound from Config.
func NewLookupCore(table *BucketTable, reclaim *Reclaimer, stats *Stats, policy PolicyEngine, notify *NotificationProtocol, entries *EntryPool, threshold int) *LookupCore {
	return &LookupCore{
		table:     table,
		reclaim:   reclaim,
		stats:     stats,
		policy:    policy,
		notify:    notify,
		entries:   entries,
		threshold: int64(threshold),
	}
}

// Lookup searches the bucket table for key, counting a hit or a miss.
// The caller must already be inside a read section (tok from
// Reclaimer.EnterRead); the returned Entry is valid only until that
// section ends.
func (l *LookupCore) Lookup(key Key) *Entry {
	l.stats.IncLookups()
	e := l.table.Find(key)
	if e != nil {
		l.stats.IncHits()
	} else {
		l.stats.IncMisses()
	}
	return e
}

// Resolve implements spec.md §4.4's miss-resolution protocol: exit the
// read section, call the policy engine, re-enter, and insert the
// result. The old token is closed and a new one is returned for the
// caller to continue with (and eventually pass to ExitRead) — a
// section may not block (§5), so the call into the policy engine
// always happens outside any open section.
func (l *LookupCore) Resolve(r *Reclaimer, tok ReadToken, key Key) (Decision, *ExtendedDecisionList, *Entry, ReadToken, error) {
	r.ExitRead(tok)
	d, xl, err := l.policy.ComputeAV(key)
	newTok := r.EnterRead()

	if err != nil {
		return Decision{}, nil, nil, newTok, err
	}

	entry, insErr := l.Insert(key, d, xl)
	if insErr != nil {
		// Stale seqno, out-of-memory: the computed Decision is still
		// authoritative for this one check, it just didn't get cached.
		return d, xl, nil, newTok, nil
	}
	return d, xl, entry, newTok, nil
}

// Insert implements spec.md §4.4's insert protocol: reject stale
// decisions, allocate, run one eviction pass whenever active_count
// exceeds the soft threshold after the increment, and splice the new
// Entry into its bucket.
func (l *LookupCore) Insert(key Key, d Decision, xl *ExtendedDecisionList) (*Entry, error) {
	if l.notify != nil {
		if err := l.notify.NoteInsert(d.Seqno); err != nil {
			return nil, err
		}
	}

	entry := l.entries.Get()
	entry.Key = key
	entry.Decision = d
	entry.Extended = xl
	l.stats.IncAllocations()

	n := l.activeCount.Add(1)
	if n > l.threshold {
		l.reclaimOnce()
	}

	old := l.table.InsertOrReplace(entry)
	if old == nil {
		// a genuinely new key; nothing replaced
	} else {
		// replaced an existing entry for the same key: active_count
		// should not have grown for this insert
		l.activeCount.Add(-1)
	}
	return entry, nil
}

// reclaimOnce performs one pass of the circular-hint eviction walk
// described in spec.md §4.4: starting at lru_hint, try up to Slots
// buckets, non-blockingly; on the first successfully locked bucket,
// unlink up to ReclaimBatch entries and stop. Returns the number of
// entries freed.
func (l *LookupCore) reclaimOnce() int {
	slots := uint32(l.table.Len())
	freed := 0

	for i := uint32(0); i < slots; i++ {
		idx := (l.lruHint.Add(1) - 1) % slots
		ok := l.table.TryLockBucket(idx, func(b *bucket) {
			freed = l.evictFromBucket(b)
		})
		if ok {
			break
		}
	}

	if freed > 0 {
		l.activeCount.Add(-int64(freed))
		l.reclaim.IncReclaims(int64(freed))
	}
	return freed
}

// evictFromBucket unlinks up to ReclaimBatch entries from the front of
// b's list, in list order, scheduling each for deferred free. The
// caller must already hold b's lock.
func (l *LookupCore) evictFromBucket(b *bucket) int {
	n := 0
	for n < ReclaimBatch {
		head := b.head.Load()
		if head == nil {
			break
		}
		b.head.Store(head.next.Load())
		if l.reclaim != nil {
			l.reclaim.DeferFree(head)
		}
		n++
	}
	return n
}

// ActiveCount returns the current soft-bounded entry count.
func (l *LookupCore) ActiveCount() int64 {
	return l.activeCount.Load()
}
