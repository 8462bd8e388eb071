// errors.go: Error taxonomy for the AVC access vector cache
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "errors"

// Sentinel errors matching spec.md §7's taxonomy. A permission check
// (HasPerm, HasExtendedPerm) returns ErrAccessDenied, ErrWouldBlock, or an
// error returned by the PolicyEngine; a stale-seqno insert and a lost
// permissive-widening update are swallowed inside the check. Avc.Update
// returns ErrNotFound, and the mutating Avc methods return ErrDisabled
// after Disable. All are exported so callers can assert on them with
// errors.Is.
var (
	// ErrAccessDenied is an authoritative deny, returned to the caller.
	ErrAccessDenied = errors.New("avc: access denied")

	// ErrStaleSeqno is returned by Insert when the decision being cached
	// was computed under a policy generation older than latest_seqno.
	ErrStaleSeqno = errors.New("avc: stale seqno")

	// ErrNotFound is returned by Update when no Entry matches the given
	// key and seqno — either the key was never cached, or a policy
	// reload raced with the update and won.
	ErrNotFound = errors.New("avc: update target not found")

	// ErrOutOfMemory names §7's allocation-failure case. No function in
	// this package returns it: Entry allocation goes through EntryPool,
	// which has no failure path.
	ErrOutOfMemory = errors.New("avc: allocation failed")

	// ErrWouldBlock is returned by a check made with FlagMayNotBlock when
	// recording its audit event would require calling into an AuditSink
	// that has not declared itself non-blocking (§5's MAY_NOT_BLOCK
	// carve-out; see NonBlockingAuditSink).
	ErrWouldBlock = errors.New("avc: audit would block")

	// ErrDisabled is returned by mutating operations once Disable has
	// been called.
	ErrDisabled = errors.New("avc: cache disabled")
)
