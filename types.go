// types.go: Core data model for the AVC access vector cache
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "sync/atomic"

// SID is an opaque security identity token.
type SID uint32

// WildSID compares equal to any identity for callback-matching purposes
// only. It must never be used as a lookup key.
const WildSID SID = 0xffffffff

// Key identifies one cached decision: a source identity, a target
// identity, and an object class.
type Key struct {
	SSID   SID
	TSID   SID
	TClass uint16
}

// Decision flags.
const (
	// FlagPermissive marks a decision computed under a permissive domain:
	// a denied request is recorded but allowed.
	FlagPermissive uint32 = 1 << iota
)

// Decision is the cached answer for one Key: which permissions are
// granted, which of those must be audited on grant, and which denials
// must be audited.
type Decision struct {
	Allowed    uint32
	AuditAllow uint32
	AuditDeny  uint32
	Seqno      uint32
	Flags      uint32
}

// Permissive reports whether the decision was computed under a
// permissive domain.
func (d Decision) Permissive() bool {
	return d.Flags&FlagPermissive != 0
}

// PermBitset is a fixed 256-bit array indexed by the low byte of a
// command code. It backs the per-operation-type refinement in
// ExtendedDecision.
type PermBitset [4]uint64

// Test reports whether bit i is set.
func (b *PermBitset) Test(i uint8) bool {
	return b[i>>6]&(1<<(i&63)) != 0
}

// Set sets bit i.
func (b *PermBitset) Set(i uint8) {
	b[i>>6] |= 1 << (i & 63)
}

// Clear clears bit i.
func (b *PermBitset) Clear(i uint8) {
	b[i>>6] &^= 1 << (i & 63)
}

// QuickCopy copies only the 64-bit word containing bit i from src into
// dst, leaving the other three words untouched. It exists to avoid a
// full 32-byte copy on the hot extended-permission lookup path, where
// only one word is ever consulted.
func (dst *PermBitset) QuickCopy(src *PermBitset, i uint8) {
	word := i >> 6
	dst[word] = src[word]
}

// ExtendedDecision refines a Decision for one operation "type" (the high
// byte of a 16-bit command code), with one 256-bit bitset, indexed by
// the "number" (the low byte), for each of allowed/auditallow/
// dontaudit. A nil sub-bitset means that aspect was never computed for
// this type — the presence of the pointer itself is the "specified" flag,
// so there is no parallel bit to keep in sync.
type ExtendedDecision struct {
	Type       uint8
	Allowed    *PermBitset
	AuditAllow *PermBitset
	DontAudit  *PermBitset
}

// clone deep-copies an ExtendedDecision, including its sub-bitsets, for
// the copy-on-write update protocol.
func (x *ExtendedDecision) clone() *ExtendedDecision {
	if x == nil {
		return nil
	}
	out := &ExtendedDecision{Type: x.Type}
	if x.Allowed != nil {
		b := *x.Allowed
		out.Allowed = &b
	}
	if x.AuditAllow != nil {
		b := *x.AuditAllow
		out.AuditAllow = &b
	}
	if x.DontAudit != nil {
		b := *x.DontAudit
		out.DontAudit = &b
	}
	return out
}

// ExtendedDecisionList is the per-Entry sequence of ExtendedDecisions,
// unique by Type, owned exclusively by the one Entry that holds it.
type ExtendedDecisionList struct {
	// TypeBitmap records which types have been computed at least once,
	// distinguishing "unknown" from "known empty" for a type.
	TypeBitmap PermBitset
	Decisions  []*ExtendedDecision
}

// Len returns the number of ExtendedDecisions held.
func (xl *ExtendedDecisionList) Len() int {
	if xl == nil {
		return 0
	}
	return len(xl.Decisions)
}

// Find returns the ExtendedDecision for the given type, or nil.
func (xl *ExtendedDecisionList) Find(t uint8) *ExtendedDecision {
	if xl == nil {
		return nil
	}
	for _, x := range xl.Decisions {
		if x.Type == t {
			return x
		}
	}
	return nil
}

// Known reports whether this type has been computed at least once, even
// if the computation produced an empty ExtendedDecision.
func (xl *ExtendedDecisionList) Known(t uint8) bool {
	if xl == nil {
		return false
	}
	return xl.TypeBitmap.Test(t)
}

// clone deep-copies an ExtendedDecisionList for the copy-on-write update
// protocol. A nil receiver clones to a fresh empty list, since the caller
// is about to add the first ExtendedDecision to an Entry that had none.
func (xl *ExtendedDecisionList) clone() *ExtendedDecisionList {
	out := &ExtendedDecisionList{}
	if xl == nil {
		return out
	}
	out.TypeBitmap = xl.TypeBitmap
	out.Decisions = make([]*ExtendedDecision, len(xl.Decisions))
	for i, x := range xl.Decisions {
		out.Decisions[i] = x.clone()
	}
	return out
}

// Entry is one cached (S,T,C) decision record. Once linked into a
// bucket, an Entry's Key/Decision/Extended fields are immutable — every
// mutation constructs a new Entry and swaps it in. next is itself an
// atomic.Pointer because an already-published Entry's next can still be
// rewritten later (its predecessor spliced out from under it, or a new
// node inserted behind it) while a lock-free reader is mid-traversal;
// every write to it must go through Store so a concurrent Load never
// observes a torn pointer.
type Entry struct {
	Key      Key
	Decision Decision
	Extended *ExtendedDecisionList
	next     atomic.Pointer[Entry]
}
