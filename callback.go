// callback.go: Policy-reset callback registration and CEL-matched fan-out
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// celEvalTimeout bounds a single condition evaluation so a pathological
// expression can never stall a reset's callback fan-out.
const celEvalTimeout = 2 * time.Second

// CallbackEvent is the set of events a registered callback can be
// scoped to, mirroring the "events_mask" argument of spec.md §6's
// add_callback.
type CallbackEvent uint32

const (
	CallbackEventGrant CallbackEvent = 1 << iota
	CallbackEventRevoke
	CallbackEventAuditAllow
	CallbackEventAuditDeny
	CallbackEventReset

	CallbackEventAll = CallbackEventGrant | CallbackEventRevoke |
		CallbackEventAuditAllow | CallbackEventAuditDeny | CallbackEventReset
)

// CallbackFunc is invoked for a matching registration. seqno is the new
// policy generation on a CallbackEventReset fan-out; it is the zero
// value for every other event.
type CallbackFunc func(key Key, events CallbackEvent, perms uint32, seqno uint32)

// CallbackScope narrows which (ssid, tsid, tclass) a registration
// applies to. Any field may be WildSID (or zero, for TClass) to match
// every value — spec.md §3's note that WILD "compares equal to any
// identity for callback-matching purposes only."
type CallbackScope struct {
	SSID   SID
	TSID   SID
	TClass uint16 // 0 matches every class
	Perms  uint32 // 0 matches every permission
}

func (s CallbackScope) matches(key Key, perms uint32) bool {
	if s.SSID != WildSID && s.SSID != key.SSID {
		return false
	}
	if s.TSID != WildSID && s.TSID != key.TSID {
		return false
	}
	if s.TClass != 0 && s.TClass != key.TClass {
		return false
	}
	if s.Perms != 0 && s.Perms&perms == 0 {
		return false
	}
	return true
}

// callbackRegistration is one add_callback call, captured at
// registration time.
type callbackRegistration struct {
	fn     CallbackFunc
	events CallbackEvent
	scope  CallbackScope
	prog   cel.Program // nil if no condition was given
}

// CallbackRegistry holds the append-only list of registered callbacks
// (§4.8, §5, §9: "append-only at initialization; treated as read-only
// after system start"). Registration is expected to happen before the
// first concurrent reader starts; Dispatch itself only ever reads the
// slice, so no lock guards it once the system is live.
type CallbackRegistry struct {
	env           *cel.Env
	registrations []callbackRegistration
}

// NewCallbackRegistry builds a registry with a CEL environment exposing
// the variables a condition can reference: ssid, tsid, tclass, perms,
// event and seqno.
func NewCallbackRegistry() (*CallbackRegistry, error) {
	env, err := cel.NewEnv(
		cel.Variable("ssid", cel.UintType),
		cel.Variable("tsid", cel.UintType),
		cel.Variable("tclass", cel.UintType),
		cel.Variable("perms", cel.UintType),
		cel.Variable("event", cel.UintType),
		cel.Variable("seqno", cel.UintType),
	)
	if err != nil {
		return nil, fmt.Errorf("avc: building callback CEL environment: %w", err)
	}
	return &CallbackRegistry{env: env}, nil
}

// AddCallback registers fn to run for every event in events that
// matches scope, further narrowed by an optional CEL condition (empty
// string means "no extra condition"). Implements spec.md §6's
// add_callback; per §9 it is an initialization-time-only operation.
func (c *CallbackRegistry) AddCallback(fn CallbackFunc, events CallbackEvent, scope CallbackScope, condition string) error {
	reg := callbackRegistration{fn: fn, events: events, scope: scope}

	if condition != "" {
		ast, issues := c.env.Compile(condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("avc: compiling callback condition %q: %w", condition, issues.Err())
		}
		prg, err := c.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
		if err != nil {
			return fmt.Errorf("avc: building callback program for %q: %w", condition, err)
		}
		reg.prog = prg
	}

	c.registrations = append(c.registrations, reg)
	return nil
}

// Dispatch runs every registration whose events mask, scope, and
// (optional) CEL condition match the given call, in registration
// order. Dispatch is called outside any read section (§4.9's "audit is
// emitted after the read section ends" applies equally to callbacks).
func (c *CallbackRegistry) Dispatch(event CallbackEvent, key Key, perms uint32, seqno uint32) {
	for _, reg := range c.registrations {
		if reg.events&event == 0 {
			continue
		}
		if !reg.scope.matches(key, perms) {
			continue
		}
		if reg.prog != nil && !c.evalCondition(reg.prog, key, event, perms, seqno) {
			continue
		}
		reg.fn(key, event, perms, seqno)
	}
}

// ResetCallback adapts the registry's reset-scoped registrations into
// a single ResetCallback usable by NotificationProtocol.AddCallback.
func (c *CallbackRegistry) ResetCallback() ResetCallback {
	return func(seqno uint32) {
		c.Dispatch(CallbackEventReset, Key{}, 0, seqno)
	}
}

func (c *CallbackRegistry) evalCondition(prg cel.Program, key Key, event CallbackEvent, perms uint32, seqno uint32) bool {
	ctx, cancel := context.WithTimeout(context.Background(), celEvalTimeout)
	defer cancel()

	activation := map[string]any{
		"ssid":   uint64(key.SSID),
		"tsid":   uint64(key.TSID),
		"tclass": uint64(key.TClass),
		"perms":  uint64(perms),
		"event":  uint64(event),
		"seqno":  uint64(seqno),
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
