// bucket.go: Sharded bucket table for the AVC access vector cache
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"sync"
	"sync/atomic"
)

// DefaultSlots is the default number of buckets in the table, matching
// spec.md's compile-time SLOTS constant. Config.Slots can override it
// (rounded up to a power of two) so tests can force hash collisions.
const DefaultSlots = 512

// bucket is one hash-table chain: an intrusive singly-linked list of
// *Entry readable without locks, guarded for writers by its own spinlock.
// Readers traverse starting from an atomically loaded head pointer;
// writers take the spinlock, splice the list, and publish the new head
// with a release store so that any reader observing the new head also
// observes a fully-initialized Entry.
type bucket struct {
	head atomic.Pointer[Entry]
	lock spinlock
}

// find returns the first Entry in the bucket whose Key equals key, or
// nil. The caller must be inside a read section (Reclaimer.EnterRead);
// the returned pointer is valid only until the section ends.
func (b *bucket) find(key Key) *Entry {
	for e := b.head.Load(); e != nil; e = e.next.Load() {
		if e.Key == key {
			return e
		}
	}
	return nil
}

// insertHead stores entry (possibly nil) as the bucket's head pointer.
// The caller must already hold the bucket's lock and must already have
// linked entry.next to the rest of the chain (see
// BucketTable.InsertOrReplace, replaceLocked and Unlink).
func (b *bucket) insertHead(entry *Entry) {
	b.head.Store(entry)
}

// BucketTable is the fixed-size array of hash buckets that backs the
// cache. Slot selection is bucketIndex in hash.go.
type BucketTable struct {
	slots   []bucket
	mask    uint32
	reclaim *Reclaimer
}

// NewBucketTable creates a table with the given number of slots (rounded
// up to a power of two, minimum DefaultSlots if slots <= 0) backed by the
// given Reclaimer.
func NewBucketTable(slots int, reclaim *Reclaimer) *BucketTable {
	if slots <= 0 {
		slots = DefaultSlots
	}
	n := nextPowerOf2(slots)
	return &BucketTable{
		slots:   make([]bucket, n),
		mask:    uint32(n - 1),
		reclaim: reclaim,
	}
}

// Len returns the number of slots in the table.
func (t *BucketTable) Len() int {
	return len(t.slots)
}

// bucketFor returns the bucket and its index for key.
func (t *BucketTable) bucketFor(key Key) (*bucket, uint32) {
	idx := bucketIndex(key, uint32(len(t.slots)))
	return &t.slots[idx], idx
}

// Find looks up key lock-free. The caller must be inside a read section.
func (t *BucketTable) Find(key Key) *Entry {
	b, _ := t.bucketFor(key)
	return b.find(key)
}

// InsertOrReplace links newEntry into the bucket for newEntry.Key. If an
// Entry with the same key is already linked, it is atomically replaced
// (copy-on-write) and scheduled for deferred free; otherwise newEntry is
// pushed at the head. Returns the Entry that was replaced, or nil.
//
// The caller must hold no locks; InsertOrReplace takes the bucket's
// spinlock itself and releases it before returning.
func (t *BucketTable) InsertOrReplace(newEntry *Entry) *Entry {
	b, _ := t.bucketFor(newEntry.Key)

	b.lock.Lock()
	defer b.lock.Unlock()

	head := b.head.Load()
	for e, prev := head, (*Entry)(nil); e != nil; prev, e = e, e.next.Load() {
		if e.Key == newEntry.Key {
			newEntry.next.Store(e.next.Load())
			if prev == nil {
				b.insertHead(newEntry)
			} else {
				// prev is already linked and visible to readers;
				// splicing newEntry in behind it rewrites prev.next,
				// so that write must be a Store, not a plain
				// assignment, or a concurrent lock-free find() walking
				// past prev could observe a torn pointer.
				prev.next.Store(newEntry)
			}
			if t.reclaim != nil {
				t.reclaim.DeferFree(e)
			}
			return e
		}
	}

	newEntry.next.Store(head)
	b.insertHead(newEntry)
	return nil
}

// replaceLocked atomically swaps oldEntry for newEntry within bucket b,
// used by the update path's copy-on-write protocol once the caller has
// already located and validated oldEntry under the bucket lock. The
// caller must hold b's lock (e.g. via WithLock) when calling
// replaceLocked.
func (t *BucketTable) replaceLocked(b *bucket, oldEntry, newEntry *Entry) {
	head := b.head.Load()
	if head == oldEntry {
		newEntry.next.Store(oldEntry.next.Load())
		b.insertHead(newEntry)
	} else {
		for e, prev := head, (*Entry)(nil); e != nil; prev, e = e, e.next.Load() {
			if e == oldEntry {
				newEntry.next.Store(e.next.Load())
				prev.next.Store(newEntry)
				break
			}
		}
	}
	if t.reclaim != nil {
		t.reclaim.DeferFree(oldEntry)
	}
}

// Unlink removes the Entry for key from its bucket and schedules it for
// deferred free. Returns true if such an Entry was found and removed.
func (t *BucketTable) Unlink(key Key) bool {
	b, _ := t.bucketFor(key)
	b.lock.Lock()
	defer b.lock.Unlock()

	head := b.head.Load()
	for e, prev := head, (*Entry)(nil); e != nil; prev, e = e, e.next.Load() {
		if e.Key == key {
			if prev == nil {
				b.insertHead(e.next.Load())
			} else {
				prev.next.Store(e.next.Load())
			}
			if t.reclaim != nil {
				t.reclaim.DeferFree(e)
			}
			return true
		}
	}
	return false
}

// WithLock runs fn with the bucket for key locked, passing the bucket so
// fn can find/replace/unlink under the same critical section (needed by
// UpdateCore's find-then-replace protocol, which must not let another
// writer interleave between the find and the replace).
func (t *BucketTable) WithLock(key Key, fn func(b *bucket)) {
	b, _ := t.bucketFor(key)
	b.lock.Lock()
	defer b.lock.Unlock()
	fn(b)
}

// ForEachBucket calls fn once per slot index, taking that slot's lock for
// the duration of the call. Used by NotificationProtocol.flush and by
// diagnostics (GetHashStats).
func (t *BucketTable) ForEachBucket(fn func(idx int, b *bucket)) {
	for i := range t.slots {
		b := &t.slots[i]
		b.lock.Lock()
		fn(i, b)
		b.lock.Unlock()
	}
}

// TryLockBucket attempts to lock the bucket at idx without blocking,
// calling fn if successful. Returns false without calling fn if the
// bucket was already locked, used by the eviction hint walk which must
// never block a contended bucket.
func (t *BucketTable) TryLockBucket(idx uint32, fn func(b *bucket)) bool {
	b := &t.slots[idx]
	if !b.lock.TryLock() {
		return false
	}
	defer b.lock.Unlock()
	fn(b)
	return true
}

// chainLen walks a bucket's list and returns its length. Callers must
// already hold the bucket's lock or be inside a read section.
func (b *bucket) chainLen() int {
	n := 0
	for e := b.head.Load(); e != nil; e = e.next.Load() {
		n++
	}
	return n
}

// spinlock is a minimal test-and-test-and-set spinlock. Writers hold it
// only for the duration of a short list splice, never across a call into
// the policy engine or audit sink, so spinning is cheaper here than
// parking a goroutine on a sync.Mutex under contention — the same
// tradeoff the teacher's shard locks make with sync.RWMutex, pushed one
// step further because our critical sections are pointer-swap short.
type spinlock struct {
	state atomic.Bool
}

// Lock spins until the lock is acquired.
func (s *spinlock) Lock() {
	for {
		if s.state.CompareAndSwap(false, true) {
			return
		}
		for s.state.Load() {
			// busy-wait; a real kernel build would sched_yield here.
		}
	}
}

// Unlock releases the lock.
func (s *spinlock) Unlock() {
	s.state.Store(false)
}

// TryLock attempts to acquire the lock without blocking.
func (s *spinlock) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}

var _ sync.Locker = (*spinlock)(nil)
