// avc.go: Public facade composing the cache's read path, write path,
// notification protocol, and callback fan-out behind has_perm/
// has_extended_perm.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// AuditEvent describes one permission check for the audit sink, emitted
// after the read section has ended (§4.9).
type AuditEvent struct {
	// CorrelationID identifies this one check for cross-referencing in
	// an external log pipeline; it has no meaning inside the cache
	// itself.
	CorrelationID string
	Key           Key
	Requested     uint32
	Denied        uint32
	Cmd           uint16 // non-zero only for an extended-permission check
	Permissive    bool
	Result        error // nil on OK, ErrAccessDenied on deny
}

// AuditSink is the external collaborator that formats and records audit
// events (§1's "Out of scope: the audit/logging subsystem", §6's
// sid_to_context — identity-to-string resolution is this sink's job,
// never the cache's).
type AuditSink interface {
	Audit(event AuditEvent)
}

// NonBlockingAuditSink is implemented by an AuditSink that can guarantee
// Audit never blocks the caller — e.g. one backed by a buffered channel
// or a lock-free ring writer rather than synchronous I/O. checkAudit
// consults this via a type assertion to give FlagMayNotBlock real teeth
// (§5): a sink that does not advertise non-blocking delivery turns a
// MAY_NOT_BLOCK check that needs to audit into ErrWouldBlock instead of
// calling into the sink and risking a stall.
type NonBlockingAuditSink interface {
	AuditSink
	NonBlocking() bool
}

// auditMayBlock reports whether calling sink.Audit could block the
// caller. A sink that doesn't implement NonBlockingAuditSink is assumed
// blocking, the conservative default.
func auditMayBlock(sink AuditSink) bool {
	nb, ok := sink.(NonBlockingAuditSink)
	return !ok || !nb.NonBlocking()
}

// NopAuditSink discards every event. Useful for tests and for callers
// that genuinely want HasPermNoAudit semantics through the normal path.
type NopAuditSink struct{}

// Audit implements AuditSink by doing nothing.
func (NopAuditSink) Audit(AuditEvent) {}

// NonBlocking reports true: discarding an event can never block.
func (NopAuditSink) NonBlocking() bool { return true }

// CheckFlags modifies a single HasPerm/HasExtendedPerm call.
type CheckFlags uint32

const (
	// FlagStrict forces ACCESS_DENIED on any denial even under a
	// permissive domain (§4.7).
	FlagStrict CheckFlags = 1 << iota

	// FlagMayNotBlock causes a check that would need to audit through a
	// sink that cannot guarantee non-blocking delivery to return
	// ErrWouldBlock instead of calling into it (§5's INODE/MAY_NOT_BLOCK
	// carve-out). Whether the sink can block is determined by whether it
	// implements NonBlockingAuditSink and reports NonBlocking() true;
	// callers needing true non-blocking audit under this flag must
	// supply such a sink.
	FlagMayNotBlock
)

// Avc is the process-wide (or per-test) access vector cache handle.
// Per SPEC_FULL.md §9's resolution of the "global mutable state" design
// note, callers construct an explicit Avc rather than relying solely on
// a package-level singleton; New also registers nothing implicitly.
type Avc struct {
	config Config

	table    *BucketTable
	reclaim  *Reclaimer
	stats    *Stats
	entries  *EntryPool
	lookup   *LookupCore
	update   *UpdateCore
	notify   *NotificationProtocol
	policy   PolicyEngine
	audit    AuditSink

	disabled atomic.Bool
}

// New constructs an Avc wired to the given policy engine and audit
// sink, using cfg for its tunables. A nil audit sink is replaced with
// NopAuditSink.
func New(cfg Config, policy PolicyEngine, audit AuditSink) *Avc {
	if audit == nil {
		audit = NopAuditSink{}
	}

	entries := NewEntryPool()
	reclaim := NewReclaimer(cfg.ReaperInterval, entries)
	table := NewBucketTable(cfg.Slots, reclaim)
	stats := NewStats()
	notify := NewNotificationProtocol(table)

	a := &Avc{
		config:  cfg,
		table:   table,
		reclaim: reclaim,
		stats:   stats,
		entries: entries,
		notify:  notify,
		policy:  policy,
		audit:   audit,
	}
	a.lookup = NewLookupCore(table, reclaim, stats, policy, notify, entries, cfg.Threshold)
	a.update = NewUpdateCore(table, entries)
	return a
}

// NewDefault constructs an Avc using LoadConfig's resolved Config.
func NewDefault(policy PolicyEngine, audit AuditSink) (*Avc, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg, policy, audit), nil
}

// HasPerm implements spec.md §4.9 / §6's has_perm: look up (or resolve)
// the Decision for key, apply the denial policy from §4.7, and, when any
// requested permission is denied (including a permissive grant), emit an
// audit record after the read section ends. A check that is fully
// allowed by the Decision is not audited.
func (a *Avc) HasPerm(key Key, requested uint32, flags CheckFlags) error {
	return a.check(key, requested, 0, flags)
}

// HasPermNoAudit is HasPerm without the final audit call (§6).
func (a *Avc) HasPermNoAudit(key Key, requested uint32, flags CheckFlags) error {
	return a.checkAudit(key, requested, 0, flags, false)
}

// HasExtendedPerm implements §4.6/§6's has_extended_perm: as HasPerm,
// refined by the extended per-command sub-cache for the (type, number)
// pair encoded in cmd.
func (a *Avc) HasExtendedPerm(key Key, requested uint32, cmd uint16, flags CheckFlags) error {
	return a.check(key, requested, cmd, flags)
}

func (a *Avc) check(key Key, requested uint32, cmd uint16, flags CheckFlags) error {
	return a.checkAudit(key, requested, cmd, flags, true)
}

func (a *Avc) checkAudit(key Key, requested uint32, cmd uint16, flags CheckFlags, doAudit bool) error {
	if a.disabled.Load() {
		if doAudit {
			if flags&FlagMayNotBlock != 0 && auditMayBlock(a.audit) {
				return ErrWouldBlock
			}
			a.audit.Audit(AuditEvent{CorrelationID: uuid.New().String(), Key: key, Requested: requested, Denied: requested, Cmd: cmd, Result: ErrAccessDenied})
		}
		return ErrAccessDenied
	}

	tok := a.reclaim.EnterRead()
	d, entry, err := a.resolveDecision(key, &tok)
	if err != nil {
		a.reclaim.ExitRead(tok)
		return err
	}

	allowed := d.Allowed
	if cmd != 0 {
		allowed = a.refineExtended(&tok, key, entry, d, requested, cmd)
	}

	denied := requested &^ allowed
	permissive := d.Permissive()
	a.reclaim.ExitRead(tok)

	if denied == 0 {
		return nil
	}

	if flags&FlagStrict != 0 || !permissive {
		if doAudit {
			if flags&FlagMayNotBlock != 0 && auditMayBlock(a.audit) {
				return ErrWouldBlock
			}
			a.audit.Audit(AuditEvent{CorrelationID: uuid.New().String(), Key: key, Requested: requested, Denied: denied, Cmd: cmd, Permissive: permissive, Result: ErrAccessDenied})
		}
		return ErrAccessDenied
	}

	// Permissive widening (§4.7): the denial is recorded but the call
	// still succeeds, and the cached allow mask is widened so future
	// identical checks short-circuit.
	if doAudit && flags&FlagMayNotBlock != 0 && auditMayBlock(a.audit) {
		return ErrWouldBlock
	}
	_ = a.update.Update(UpdateArgs{Key: key, Event: EventGrant, Perms: requested, Cmd: cmd, Seqno: d.Seqno})
	if doAudit {
		a.audit.Audit(AuditEvent{CorrelationID: uuid.New().String(), Key: key, Requested: requested, Denied: denied, Cmd: cmd, Permissive: true, Result: nil})
	}
	return nil
}

// resolveDecision returns the Decision to use for this check, entering
// the policy engine on a miss. tok may be replaced with a fresh token
// if a miss required exiting and re-entering the read section.
func (a *Avc) resolveDecision(key Key, tok *ReadToken) (Decision, *Entry, error) {
	entry := a.lookup.Lookup(key)
	if entry != nil {
		return entry.Decision, entry, nil
	}

	d, _, entry, newTok, err := a.lookup.Resolve(a.reclaim, *tok, key)
	*tok = newTok
	if err != nil {
		return Decision{}, nil, err
	}
	if entry == nil {
		// Insert was dropped (stale seqno / OOM); the computed Decision
		// is still authoritative for this one check (§9).
		return d, nil, nil
	}
	return d, entry, nil
}

// refineExtended implements §4.6: given the primary Decision's allowed
// mask, narrow it by consulting the entry's extended sub-cache for the
// (type, number) pair in cmd, lazily populating it via the policy
// engine on a miss. A nil entry.Extended holds no types at all, so every
// type is unknown for it and the first check of a type computes and
// caches it. A nil entry (the Decision was not cached) applies the
// primary Decision unrefined.
func (a *Avc) refineExtended(tok *ReadToken, key Key, entry *Entry, d Decision, requested uint32, cmd uint16) uint32 {
	if entry == nil {
		return d.Allowed
	}

	opType := uint8(cmd >> 8)
	num := uint8(cmd)

	if xd := entry.Extended.Find(opType); xd != nil {
		if xd.Allowed != nil && xd.Allowed.Test(num) {
			return d.Allowed
		}
		return d.Allowed &^ requested
	}

	if entry.Extended.Known(opType) {
		// type_bitmap[type] set but no ExtendedDecision stored: known
		// to be empty for this type, so deny.
		return d.Allowed &^ requested
	}

	return a.computeAndCacheExtended(tok, key, entry, d, requested, opType, num)
}

// computeAndCacheExtended exits the read section, asks the policy
// engine for a fresh ExtendedDecision, re-enters, and issues
// update(ADD_EXTENDED, ...) — using the freshly computed decision for
// the current check even if the update races and is dropped (§4.6).
func (a *Avc) computeAndCacheExtended(tok *ReadToken, key Key, entry *Entry, d Decision, requested uint32, opType, num uint8) uint32 {
	a.reclaim.ExitRead(*tok)
	xd, err := a.policy.ComputeExtended(key, opType)
	*tok = a.reclaim.EnterRead()

	if err != nil || xd == nil {
		return d.Allowed
	}

	_ = a.update.Update(UpdateArgs{Key: key, Event: EventAddExtended, Seqno: entry.Decision.Seqno, Xd: xd})

	if xd.Allowed != nil && xd.Allowed.Test(num) {
		return d.Allowed
	}
	return d.Allowed &^ requested
}

// Update applies a single GRANT/REVOKE/audit-toggle/ADD_EXTENDED event
// via UpdateCore, the sole mutation entry point described in §4.5. It
// is exposed directly (rather than only reachable through HasPerm's
// internal permissive-widening path) for callers reacting to a policy
// change that targets one specific Entry rather than a full reset.
func (a *Avc) Update(args UpdateArgs) error {
	if a.disabled.Load() {
		return ErrDisabled
	}
	return a.update.Update(args)
}

// PolicySeqno returns the current latest_seqno (§6).
func (a *Avc) PolicySeqno() uint32 {
	return a.notify.Seqno()
}

// SsReset implements §6's ss_reset: flush every bucket, fan the reset
// out to registered callbacks, then advance latest_seqno. Once Disable
// has been called, SsReset does nothing and returns ErrDisabled.
func (a *Avc) SsReset(seqno uint32) error {
	if a.disabled.Load() {
		return ErrDisabled
	}
	a.notify.Reset(seqno, a.reclaim)
	a.lookup.activeCount.Store(0)
	return nil
}

// AddCallback registers fn to run on every future SsReset, per §6's
// add_callback. Initialization-time only (§9).
func (a *Avc) AddCallback(fn ResetCallback) error {
	if a.disabled.Load() {
		return ErrDisabled
	}
	a.notify.AddCallback(fn)
	return nil
}

// Disable implements SPEC_FULL.md §9's resolved Open Question 1: flush
// the cache, then mark it permanently unusable for mutation and for new
// permission checks, without consulting the policy engine again.
// PolicySeqno and GetHashStats keep working.
func (a *Avc) Disable() {
	if !a.disabled.CompareAndSwap(false, true) {
		return
	}
	a.notify.flush(a.reclaim)
	a.lookup.activeCount.Store(0)
	a.reclaim.Stop()
}

// GetHashStats returns the diagnostic summary described in §6:
// entries, buckets used/total, and the longest chain, plus the
// reclaim/free counters the Reclaimer tracks.
func (a *Avc) GetHashStats() HashStats {
	var hs HashStats
	hs.BucketsTotal = a.table.Len()

	a.table.ForEachBucket(func(_ int, b *bucket) {
		n := b.chainLen()
		if n > 0 {
			hs.BucketsUsed++
		}
		hs.Entries += n
		if n > hs.LongestChain {
			hs.LongestChain = n
		}
	})

	hs.Reclaims = a.reclaim.Reclaims()
	hs.Frees = a.reclaim.Frees()
	hs.Pending = a.reclaim.Pending()
	return hs
}

// Stats returns the Snapshot of per-shard lookup/hit/miss/allocation
// counters (§6).
func (a *Avc) Stats() Snapshot {
	return a.stats.Snapshot()
}

// MetricsCollector returns a prometheus.Collector exposing this Avc's
// statistics and hash diagnostics, or nil if Config.StatsEnabled is
// false (SPEC_FULL.md §6's additive Statistics export).
func (a *Avc) MetricsCollector() prometheus.Collector {
	if !a.config.StatsEnabled {
		return nil
	}
	return a.stats.Collector(a.GetHashStats)
}
