// notify_test.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"errors"
	"testing"
)

func TestNoteInsertRejectsStale(t *testing.T) {
	reclaim := NewReclaimer(0, nil)
	defer reclaim.Stop()
	table := NewBucketTable(8, reclaim)
	n := NewNotificationProtocol(table)

	n.NoteReset(5)

	if err := n.NoteInsert(4); !errors.Is(err, ErrStaleSeqno) {
		t.Fatalf("expected ErrStaleSeqno, got %v", err)
	}
	if err := n.NoteInsert(5); err != nil {
		t.Fatalf("expected seqno 5 to be accepted, got %v", err)
	}
}

func TestNoteResetNeverGoesBackwards(t *testing.T) {
	reclaim := NewReclaimer(0, nil)
	defer reclaim.Stop()
	table := NewBucketTable(8, reclaim)
	n := NewNotificationProtocol(table)

	n.NoteReset(10)
	n.NoteReset(3)

	if got := n.Seqno(); got != 10 {
		t.Fatalf("expected latest_seqno to stay at 10, got %d", got)
	}
}

func TestResetFlushesAndFansOut(t *testing.T) {
	reclaim := NewReclaimer(0, nil)
	defer reclaim.Stop()
	table := NewBucketTable(8, reclaim)
	n := NewNotificationProtocol(table)

	key := Key{SSID: 1, TSID: 2, TClass: 3}
	table.InsertOrReplace(&Entry{Key: key})

	var seenSeqno uint32
	n.AddCallback(func(seqno uint32) { seenSeqno = seqno })

	n.Reset(7, reclaim)

	if table.Find(key) != nil {
		t.Fatal("expected the flush to remove every entry")
	}
	if seenSeqno != 7 {
		t.Fatalf("expected the callback to observe seqno 7, got %d", seenSeqno)
	}
	if n.Seqno() != 7 {
		t.Fatalf("expected latest_seqno 7, got %d", n.Seqno())
	}
}
