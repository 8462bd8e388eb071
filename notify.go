// notify.go: Sequence-number tracking, flush, and policy-reset fan-out
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "sync"

// ResetCallback is invoked once per registered callback whenever the
// cache is flushed by a policy reset (§4.8). It receives the new seqno.
type ResetCallback func(seqno uint32)

// NotificationProtocol tracks the global monotonic policy generation
// (latest_seqno) and drives the flush+fan-out protocol that keeps cached
// entries from outliving the policy they were computed under.
type NotificationProtocol struct {
	mu        sync.Mutex
	latest    uint32
	callbacks []ResetCallback

	table *BucketTable
}

// NewNotificationProtocol creates a NotificationProtocol bound to the
// given bucket table, which reset() flushes.
func NewNotificationProtocol(table *BucketTable) *NotificationProtocol {
	return &NotificationProtocol{table: table}
}

// NoteInsert implements §4.8's note_insert: rejects an insertion whose
// seqno is older than the latest known policy generation. It does not
// advance latest_seqno itself — only NoteReset does that.
func (n *NotificationProtocol) NoteInsert(seqno uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if seqno < n.latest {
		return ErrStaleSeqno
	}
	return nil
}

// NoteReset implements §4.8's note_reset: advances latest_seqno to
// seqno if seqno is newer, and never moves it backwards.
func (n *NotificationProtocol) NoteReset(seqno uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if seqno > n.latest {
		n.latest = seqno
	}
}

// Seqno returns the current latest_seqno, exposed to callers as
// policy_seqno (§6).
func (n *NotificationProtocol) Seqno() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest
}

// AddCallback registers fn to run on every future reset. Per spec.md
// §9 and §5, the registry is append-only and intended for
// initialization-time use only. It is guarded by the same mutex Reset
// uses to copy the list, so a callback added while a Reset is running
// is not invoked by that Reset, only by later ones.
func (n *NotificationProtocol) AddCallback(fn ResetCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, fn)
}

// Reset implements §4.8's reset(seqno): flush every bucket, invoke
// every registered callback with the new seqno, then advance
// latest_seqno. Reset is linearizable with respect to lookups: any
// lookup beginning after Reset returns observes no pre-reset entry,
// because the flush takes every bucket's lock in turn before this
// function returns.
func (n *NotificationProtocol) Reset(seqno uint32, reclaim *Reclaimer) {
	n.flush(reclaim)

	n.mu.Lock()
	callbacks := make([]ResetCallback, len(n.callbacks))
	copy(callbacks, n.callbacks)
	n.mu.Unlock()

	for _, cb := range callbacks {
		cb(seqno)
	}

	n.NoteReset(seqno)
}

// flush walks every bucket, taking each lock in turn, and unlinks every
// Entry found, scheduling each for deferred free.
func (n *NotificationProtocol) flush(reclaim *Reclaimer) {
	n.table.ForEachBucket(func(_ int, b *bucket) {
		for {
			head := b.head.Load()
			if head == nil {
				break
			}
			b.head.Store(head.next.Load())
			if reclaim != nil {
				reclaim.DeferFree(head)
			}
		}
	})
}
