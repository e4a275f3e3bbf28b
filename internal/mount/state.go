// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mount holds the Mount aggregate and its building blocks: the
// state machine, the parent-commit holder, the mount/unmount handshake,
// and the per-process mount generation counter. The
// LifecycleOrchestrator entry points that drive a Mount through these
// states live in internal/lifecycle, one layer up, since they also need
// to attach a kernel channel (internal/channel imports this package).
package mount

import (
	"fmt"
	"sync/atomic"
)

// State is the mount's lifecycle state. The legacy name
// FuseError is kept even though it covers
// NFS and projection channel failures too.
type State int32

const (
	Uninitialized State = iota
	Initializing
	InitError
	Initialized
	Starting
	FuseError
	Running
	ShuttingDown
	ShutDown
	Destroying
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initializing:
		return "INITIALIZING"
	case InitError:
		return "INIT_ERROR"
	case Initialized:
		return "INITIALIZED"
	case Starting:
		return "STARTING"
	case FuseError:
		return "FUSE_ERROR"
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case ShutDown:
		return "SHUT_DOWN"
	case Destroying:
		return "DESTROYING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// legalTransitions is the mount's state-transition diagram. Destroying is
// absorbing except for the self-delete edge handled specially in
// lifecycle.go, so it has no outgoing entries here.
var legalTransitions = map[State]map[State]bool{
	Uninitialized: {Initializing: true, ShuttingDown: true, Destroying: true},
	Initializing:  {Initialized: true, InitError: true, ShuttingDown: true, Destroying: true},
	InitError:     {ShuttingDown: true, Destroying: true},
	Initialized:   {Starting: true, ShuttingDown: true, Destroying: true},
	Starting:      {Running: true, FuseError: true, ShuttingDown: true, Destroying: true},
	FuseError:     {ShuttingDown: true, Destroying: true},
	Running:       {ShuttingDown: true, Destroying: true},
	ShuttingDown:  {ShutDown: true},
	ShutDown:      {Destroying: true},
}

// ErrIllegalStateTransition is returned (and, for CAS helpers that have no
// error return, turned into a panic by the caller) when a transition isn't
// in the table above. This is an invariant violation: fatal, not
// retryable.
type ErrIllegalStateTransition struct {
	From, To State
}

func (e *ErrIllegalStateTransition) Error() string {
	return fmt.Sprintf("mount: illegal state transition %s -> %s", e.From, e.To)
}

// StateVar is the CAS-only atomic state variable: state transitions are
// total-order per mount.
type StateVar struct {
	v atomic.Int32
}

func NewStateVar(initial State) *StateVar {
	sv := &StateVar{}
	sv.v.Store(int32(initial))
	return sv
}

func (sv *StateVar) Load() State { return State(sv.v.Load()) }

// Transition performs a legal CAS from `from` to `to`, returning
// ErrIllegalStateTransition if the edge isn't legal (From is then the
// caller's `from`) or if the current state doesn't match `from` (From is
// then the *actual* observed state). A concurrent operation that loses
// this race sees the state that actually won.
func (sv *StateVar) Transition(from, to State) error {
	if !legalTransitions[from][to] {
		return &ErrIllegalStateTransition{From: from, To: to}
	}
	if !sv.v.CompareAndSwap(int32(from), int32(to)) {
		return &ErrIllegalStateTransition{From: sv.Load(), To: to}
	}
	return nil
}

// Exchange unconditionally swaps in `to` and returns the prior state.
// Used by destroy(), which is an atomic exchange to Destroying from any
// state.
func (sv *StateVar) Exchange(to State) State {
	return State(sv.v.Swap(int32(to)))
}
