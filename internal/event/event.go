// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event defines the wire-independent event envelope produced by the
// core and consumed by an external event sink. Encoding, persistence, and
// IPC are out of scope for this package; it only defines the contract.
package event

import "fmt"

// AllocationID is a process-unique identifier attached to a single recorded
// allocation. It is the pair (internalTID, per-thread counter); neither
// component is ever reused within a process's lifetime.
type AllocationID struct {
	InternalTID uint64
	Counter     uint64
}

// String renders the id as "tid:counter", useful for log lines and tests.
func (id AllocationID) String() string {
	return fmt.Sprintf("%d:%d", id.InternalTID, id.Counter)
}

// Kind discriminates the InternalEvent payload.
type Kind int

const (
	// KindAlloc records a single heap allocation observed on some thread.
	KindAlloc Kind = iota
	// KindExit is emitted once per enable cycle, when the worker observes
	// a shutdown request (DESIRED=Disabled, as on_exit sets) and performs
	// the Enabled->Stopping transition. Toggling off (DESIRED=Suspended)
	// does not emit it, and neither does a panic in the processing thread
	// body.
	KindExit
)

func (k Kind) String() string {
	switch k {
	case KindAlloc:
		return "alloc"
	case KindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Allocation carries the minimal allocation record the core is responsible
// for stamping. Size/address/backtrace decoding belongs to collaborators
// outside this core.
type Allocation struct {
	ID            AllocationID
	SystemTID     uint32
	Size          uintptr
	Address       uintptr
	UnwindUserTag uint64
}

// InternalEvent is the record type sent to the event sink. The core never
// inspects event payloads beyond constructing them; the sink (an external
// collaborator) owns encoding and persistence.
type InternalEvent struct {
	Kind  Kind
	Alloc Allocation
}

// NewAllocEvent builds an InternalEvent for a recorded allocation.
func NewAllocEvent(a Allocation) InternalEvent {
	return InternalEvent{Kind: KindAlloc, Alloc: a}
}

// ExitEvent is the single sentinel event emitted during teardown.
var ExitEvent = InternalEvent{Kind: KindExit}

// Sink is the fire-and-forget channel the core emits events into. The core
// relies only on Send never blocking indefinitely; a full buffer should drop
// or apply backpressure according to the sink's own policy, not the core's.
type Sink interface {
	Send(InternalEvent)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(InternalEvent)

// Send implements Sink.
func (f SinkFunc) Send(e InternalEvent) { f(e) }

// Discard is a Sink that drops every event; useful as a default before a
// real sink is wired up, and in tests that don't care about event content.
var Discard Sink = SinkFunc(func(InternalEvent) {})
