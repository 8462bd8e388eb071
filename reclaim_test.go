// reclaim_test.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestReclaimerDeferFreeWaitsForReader(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewEntryPool()
	r := NewReclaimer(2*time.Millisecond, pool)
	defer r.Stop()

	tok := r.EnterRead()

	entry := &Entry{Key: Key{SSID: 1}}
	r.DeferFree(entry)

	// A tick may fire, but the entry must not be freed while tok is open:
	// the epoch it was deferred under cannot yet be older than the oldest
	// pinned reader epoch.
	time.Sleep(20 * time.Millisecond)
	if r.Frees() != 0 {
		t.Fatalf("expected 0 frees while a reader is pinned, got %d", r.Frees())
	}

	r.ExitRead(tok)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.Frees() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected the entry to be freed after the reader exited, frees=%d", r.Frees())
}

func TestReclaimerStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewReclaimer(time.Millisecond, nil)
	r.Stop()
	r.Stop() // must not panic or double-close
}

func TestReclaimerPendingCount(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewReclaimer(time.Hour, nil) // long tick: nothing swept during the test
	defer r.Stop()

	r.DeferFree(&Entry{})
	r.DeferFree(&Entry{})

	if got := r.Pending(); got != 2 {
		t.Fatalf("expected 2 pending entries, got %d", got)
	}
}
