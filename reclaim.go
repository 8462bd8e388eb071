// reclaim.go: Deferred reclamation for the AVC bucket table
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// Reclaimer implements the deferred-reclamation contract of spec.md §4.3
// and §5: any Entry pointer obtained inside a read section remains valid
// until the section ends, and a deferred free completes only after every
// read section that could have observed the pointer has also ended.
//
// The discipline is epoch-based rather than hazard-pointer-based: a
// global epoch counter advances on a timer, every live reader pins the
// epoch active when it entered its read section, and a pending Entry is
// only actually freed once the oldest pinned epoch has moved past the
// epoch that was current when that Entry was detached. This trades a
// little extra retained memory (entries detached "recently" wait out a
// full epoch tick before being freed) for O(1) enter/exit with no
// reader-side CAS loop, which matters because EnterRead is on the hot
// path of every permission check. Each EnterRead does allocate one small
// pin and store it in a sync.Map.
type Reclaimer struct {
	epoch   atomic.Uint64
	readers sync.Map // reader id (int64) -> pinned epoch (*atomic.Uint64)
	nextID  atomic.Int64

	mu      sync.Mutex
	pending deque.Deque[pendingFree]

	tickInterval time.Duration
	stop         chan struct{}
	stopped      atomic.Bool
	wg           sync.WaitGroup

	entries *EntryPool

	frees    atomic.Int64
	reclaims atomic.Int64
}

type pendingFree struct {
	entry *Entry
	epoch uint64
}

// pinnedEpochNone marks a reader slot as currently not inside a read
// section.
const pinnedEpochNone = ^uint64(0)

// ReadToken is returned by EnterRead and must be passed to ExitRead to
// close the same read section.
type ReadToken struct {
	id  int64
	pin *atomic.Uint64
}

// NewReclaimer creates a Reclaimer whose background reaper advances the
// epoch and sweeps the pending-free queue every tick.
func NewReclaimer(tick time.Duration, entries *EntryPool) *Reclaimer {
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}
	if entries == nil {
		entries = NewEntryPool()
	}
	r := &Reclaimer{tickInterval: tick, stop: make(chan struct{}), entries: entries}
	r.wg.Add(1)
	go r.reap()
	return r
}

// EnterRead begins a read section, pinning the current epoch so that any
// Entry reachable from the bucket table right now cannot be freed until
// this section ends. O(1), uncontended, never blocks.
func (r *Reclaimer) EnterRead() ReadToken {
	id := r.nextID.Add(1)
	pin := new(atomic.Uint64)
	pin.Store(r.epoch.Load())
	r.readers.Store(id, pin)
	return ReadToken{id: id, pin: pin}
}

// ExitRead ends a read section started by EnterRead.
func (r *Reclaimer) ExitRead(tok ReadToken) {
	r.readers.Delete(tok.id)
}

// DeferFree schedules entry to be freed once no read section that began
// before this call remains open. entry must already be detached from
// every bucket.
func (r *Reclaimer) DeferFree(entry *Entry) {
	if entry == nil {
		return
	}
	r.mu.Lock()
	r.pending.PushBack(pendingFree{entry: entry, epoch: r.epoch.Load()})
	r.mu.Unlock()
}

// oldestReaderEpoch returns the oldest epoch pinned by any live reader,
// or the current epoch if there are none.
func (r *Reclaimer) oldestReaderEpoch() uint64 {
	oldest := r.epoch.Load()
	r.readers.Range(func(_, v any) bool {
		pin := v.(*atomic.Uint64)
		if e := pin.Load(); e < oldest {
			oldest = e
		}
		return true
	})
	return oldest
}

// reap is the background grace-period sweeper: it advances the epoch and
// then frees every pending entry whose recorded epoch is strictly older
// than the oldest epoch any live reader could still be using. This mirrors
// the teacher's per-shard cleanupRoutine in shape (a ticker-driven
// goroutine bound to ctx/stop-channel cancellation) but sweeps a shared
// pending queue instead of a shard map.
func (r *Reclaimer) reap() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			r.sweep()
			return
		}
	}
}

// sweep advances the epoch once and frees everything now safe to free.
func (r *Reclaimer) sweep() {
	r.epoch.Add(1)
	safe := r.oldestReaderEpoch()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending.Len() > 0 {
		front := r.pending.Front()
		if front.epoch >= safe {
			break
		}
		freed := r.pending.PopFront()
		r.entries.Put(freed.entry)
		r.frees.Add(1)
	}
}

// Pending returns the number of entries currently awaiting a grace
// period, a diagnostic used by GetHashStats.
func (r *Reclaimer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// Frees returns the cumulative number of entries actually freed.
func (r *Reclaimer) Frees() int64 {
	return r.frees.Load()
}

// IncReclaims records that the eviction path unlinked an entry (distinct
// from Frees, which counts entries that finished their grace period).
func (r *Reclaimer) IncReclaims(n int64) {
	r.reclaims.Add(n)
}

// Reclaims returns the cumulative number of entries unlinked by eviction.
func (r *Reclaimer) Reclaims() int64 {
	return r.reclaims.Load()
}

// Stop halts the background reaper and performs one final sweep,
// flushing every entry that can be freed right now. It does not wait out
// a grace period for entries still pinned by a live reader — the caller
// is expected to have already quiesced all readers (e.g. via Disable).
func (r *Reclaimer) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		close(r.stop)
		r.wg.Wait()
	}
}
