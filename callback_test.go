// callback_test.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import "testing"

func TestCallbackScopeMatchesWildSID(t *testing.T) {
	scope := CallbackScope{SSID: WildSID, TSID: 7, TClass: 3, Perms: 0x1}
	key := Key{SSID: 123, TSID: 7, TClass: 3}

	if !scope.matches(key, 0x1) {
		t.Fatal("expected WildSID SSID to match any ssid")
	}
	if scope.matches(Key{SSID: 123, TSID: 8, TClass: 3}, 0x1) {
		t.Fatal("expected a non-wild tsid mismatch to fail")
	}
}

func TestCallbackScopeZeroFieldsAreWildcards(t *testing.T) {
	scope := CallbackScope{SSID: WildSID, TSID: WildSID}
	key := Key{SSID: 1, TSID: 2, TClass: 99}

	if !scope.matches(key, 0xffff) {
		t.Fatal("expected zero TClass/Perms to match any class/perms")
	}
}

func TestDispatchFiltersByEventMask(t *testing.T) {
	reg, err := NewCallbackRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var grantFired, revokeFired bool
	reg.AddCallback(func(key Key, events CallbackEvent, perms uint32, seqno uint32) {
		grantFired = true
	}, CallbackEventGrant, CallbackScope{SSID: WildSID, TSID: WildSID}, "")

	reg.AddCallback(func(key Key, events CallbackEvent, perms uint32, seqno uint32) {
		revokeFired = true
	}, CallbackEventRevoke, CallbackScope{SSID: WildSID, TSID: WildSID}, "")

	reg.Dispatch(CallbackEventGrant, Key{SSID: 1, TSID: 2}, 0x1, 0)

	if !grantFired {
		t.Fatal("expected the grant-scoped callback to fire")
	}
	if revokeFired {
		t.Fatal("expected the revoke-scoped callback not to fire for a grant event")
	}
}

func TestDispatchHonorsCELCondition(t *testing.T) {
	reg, err := NewCallbackRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fired bool
	if err := reg.AddCallback(func(key Key, events CallbackEvent, perms uint32, seqno uint32) {
		fired = true
	}, CallbackEventAll, CallbackScope{SSID: WildSID, TSID: WildSID}, "ssid == uint(42)"); err != nil {
		t.Fatalf("unexpected error compiling condition: %v", err)
	}

	reg.Dispatch(CallbackEventGrant, Key{SSID: 1, TSID: 2}, 0x1, 0)
	if fired {
		t.Fatal("expected the condition to suppress dispatch for ssid != 42")
	}

	reg.Dispatch(CallbackEventGrant, Key{SSID: 42, TSID: 2}, 0x1, 0)
	if !fired {
		t.Fatal("expected the condition to allow dispatch for ssid == 42")
	}
}

func TestAddCallbackRejectsInvalidCondition(t *testing.T) {
	reg, err := NewCallbackRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = reg.AddCallback(func(Key, CallbackEvent, uint32, uint32) {}, CallbackEventAll, CallbackScope{}, "not valid cel ((((")
	if err == nil {
		t.Fatal("expected an invalid CEL condition to fail compilation")
	}
}

func TestResetCallbackWiresIntoNotificationProtocol(t *testing.T) {
	reclaim := NewReclaimer(0, nil)
	defer reclaim.Stop()
	table := NewBucketTable(8, reclaim)
	n := NewNotificationProtocol(table)

	reg, err := NewCallbackRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var seen uint32
	reg.AddCallback(func(key Key, events CallbackEvent, perms uint32, seqno uint32) {
		seen = seqno
	}, CallbackEventReset, CallbackScope{SSID: WildSID, TSID: WildSID}, "")

	n.AddCallback(reg.ResetCallback())
	n.Reset(99, reclaim)

	if seen != 99 {
		t.Fatalf("expected the registry callback to observe seqno 99, got %d", seen)
	}
}
