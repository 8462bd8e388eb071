// update.go: Copy-on-write mutation for grant/revoke/audit-toggle/extend
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

// Event identifies the kind of mutation UpdateCore.Update applies to a
// matched Entry, per spec.md §4.5's table.
type Event uint8

const (
	EventGrant Event = iota
	EventTryRevoke
	EventRevoke
	EventAuditAllowEnable
	EventAuditAllowDisable
	EventAuditDenyEnable
	EventAuditDenyDisable
	EventAddExtended
)

// UpdateArgs bundles the parameters of a single Update call. Perms is
// the permission mask for GRANT/REVOKE/audit-toggle events; Cmd is the
// 16-bit command code for a GRANT that should also refine the extended
// sub-cache; Xd is the ExtendedDecision to append for EventAddExtended.
type UpdateArgs struct {
	Key   Key
	Event Event
	Perms uint32
	Cmd   uint16
	Seqno uint32
	Xd    *ExtendedDecision
}

// UpdateCore is the sole mutation entry point (§4.5): every grant,
// revoke, audit-toggle, and extend event flows through Update, which
// applies the copy-on-write protocol under the target bucket's lock.
type UpdateCore struct {
	table   *BucketTable
	entries *EntryPool
}

// NewUpdateCore builds an UpdateCore over the given table.
func NewUpdateCore(table *BucketTable, entries *EntryPool) *UpdateCore {
	return &UpdateCore{table: table, entries: entries}
}

// Update applies args to the Entry matching args.Key whose current
// Decision.Seqno equals args.Seqno. If no such Entry exists — because
// the key was never cached, or a policy reload raced and replaced it —
// Update returns ErrNotFound and the caller treats it as a lost race,
// per §7's propagation policy.
func (u *UpdateCore) Update(args UpdateArgs) error {
	var result error

	u.table.WithLock(args.Key, func(b *bucket) {
		old := b.find(args.Key)
		if old == nil || old.Decision.Seqno != args.Seqno {
			result = ErrNotFound
			return
		}

		next := u.entries.Get()
		next.Key = old.Key
		next.Decision = old.Decision
		next.Extended = old.Extended.clone()

		applyEvent(next, args)

		u.table.replaceLocked(b, old, next)
	})

	return result
}

// applyEvent mutates e in place according to args.Event. e must be a
// freshly allocated, not-yet-published Entry — this is the only place
// an Entry's Decision/Extended fields are written after construction,
// and it happens strictly before the bucket-head publish in
// replaceLocked.
func applyEvent(e *Entry, args UpdateArgs) {
	switch args.Event {
	case EventGrant:
		e.Decision.Allowed |= args.Perms
		if args.Cmd != 0 && e.Extended != nil {
			opType := uint8(args.Cmd >> 8)
			num := uint8(args.Cmd)
			xd := e.Extended.Find(opType)
			if xd == nil {
				xd = &ExtendedDecision{Type: opType}
				e.Extended.Decisions = append(e.Extended.Decisions, xd)
			}
			if xd.Allowed == nil {
				xd.Allowed = &PermBitset{}
			}
			xd.Allowed.Set(num)
			e.Extended.TypeBitmap.Set(opType)
		}

	case EventTryRevoke, EventRevoke:
		// Collapsed to an identical effect (SPEC_FULL.md §9, Open
		// Question 2); EventTryRevoke is kept as a distinct constant
		// for call-site clarity should the two ever need to diverge.
		e.Decision.Allowed &^= args.Perms

	case EventAuditAllowEnable:
		e.Decision.AuditAllow |= args.Perms
	case EventAuditAllowDisable:
		e.Decision.AuditAllow &^= args.Perms

	case EventAuditDenyEnable:
		e.Decision.AuditDeny |= args.Perms
	case EventAuditDenyDisable:
		e.Decision.AuditDeny &^= args.Perms

	case EventAddExtended:
		if args.Xd == nil {
			return
		}
		if e.Extended == nil {
			e.Extended = &ExtendedDecisionList{}
		}
		copied := args.Xd.clone()
		e.Extended.TypeBitmap.Set(copied.Type)
		for i, x := range e.Extended.Decisions {
			if x.Type == copied.Type {
				// Keep types unique: a racing ADD_EXTENDED for a type
				// already present replaces it rather than duplicating it.
				e.Extended.Decisions[i] = copied
				return
			}
		}
		e.Extended.Decisions = append(e.Extended.Decisions, copied)
	}
}
