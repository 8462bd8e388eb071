// api.go: Default global Avc, kept only for compatibility with callers
// that do not want to thread an explicit handle through their code.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"fmt"
	"sync"
)

var (
	defaultOnce sync.Once
	defaultAvc  *Avc
	defaultErr  error
)

// Init installs policy and audit as the backing collaborators for the
// package-level default Avc, using LoadConfig for its tunables. It must
// be called once, before any package-level function (HasPerm, etc.) is
// used. Per SPEC_FULL.md §9, prefer constructing an explicit *Avc via
// New for anything beyond a quick script or a single-policy-engine
// process — the global is a compatibility shim, not the primary API.
func Init(policy PolicyEngine, audit AuditSink) error {
	var err error
	defaultOnce.Do(func() {
		defaultAvc, err = NewDefault(policy, audit)
		defaultErr = err
	})
	if defaultAvc == nil && err == nil {
		// Init was already called (successfully or not) by an earlier
		// caller; report its outcome rather than silently succeeding.
		err = defaultErr
	}
	return err
}

func mustDefault() (*Avc, error) {
	if defaultAvc == nil {
		return nil, fmt.Errorf("avc: Init must be called before using the package-level API")
	}
	return defaultAvc, nil
}

// HasPerm calls HasPerm on the default Avc installed by Init.
func HasPerm(key Key, requested uint32, flags CheckFlags) error {
	a, err := mustDefault()
	if err != nil {
		return err
	}
	return a.HasPerm(key, requested, flags)
}

// HasExtendedPerm calls HasExtendedPerm on the default Avc installed by
// Init.
func HasExtendedPerm(key Key, requested uint32, cmd uint16, flags CheckFlags) error {
	a, err := mustDefault()
	if err != nil {
		return err
	}
	return a.HasExtendedPerm(key, requested, cmd, flags)
}

// PolicySeqno calls PolicySeqno on the default Avc installed by Init.
func PolicySeqno() (uint32, error) {
	a, err := mustDefault()
	if err != nil {
		return 0, err
	}
	return a.PolicySeqno(), nil
}

// SsReset calls SsReset on the default Avc installed by Init.
func SsReset(seqno uint32) error {
	a, err := mustDefault()
	if err != nil {
		return err
	}
	return a.SsReset(seqno)
}

// Disable calls Disable on the default Avc installed by Init.
func Disable() error {
	a, err := mustDefault()
	if err != nil {
		return err
	}
	a.Disable()
	return nil
}
