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

// Package core implements the runtime-control state machine, per-thread
// registry, handle protocol, allocation lock, and process hooks for an
// in-process memory-profiling interceptor. Event encoding, file output,
// symbol resolution, and CLI/config loading are external collaborators
// that live in sibling packages.
package core

import (
	"sync"
	"sync/atomic"
	"time"

	"memsentry.dev/memsentry/internal/event"
	"memsentry.dev/memsentry/internal/logging"
	"memsentry.dev/memsentry/internal/unwind"
)

var log = logging.For("core")

// State is the actual lifecycle position of the profiler as a whole.
type State uint32

const (
	StateUninitialized State = iota
	StateDisabled
	StateStarting
	StateEnabled
	StateStopping
	StatePermanentlyDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDisabled:
		return "disabled"
	case StateStarting:
		return "starting"
	case StateEnabled:
		return "enabled"
	case StateStopping:
		return "stopping"
	case StatePermanentlyDisabled:
		return "permanently-disabled"
	default:
		return "unknown"
	}
}

// Desired is the user's intent toggle, distinct from State.
type Desired uint32

const (
	DesiredDisabled Desired = iota
	DesiredSuspended
	DesiredEnabled
)

func (d Desired) String() string {
	switch d {
	case DesiredDisabled:
		return "disabled"
	case DesiredSuspended:
		return "suspended"
	case DesiredEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Startup is the one-shot external initialization collaborator run when
// the machine first leaves StateUninitialized. It is supplied by the
// embedding program (CLI/config loading is out of scope for this
// package).
type Startup func()

// Machine is the global runtime-control state machine. All state and
// desired-state loads/stores use sequentially consistent ordering; Go's
// sync/atomic provides this by default for all its operations, so no
// explicit memory-order parameter is needed.
type Machine struct {
	state   atomic.Uint32
	desired atomic.Uint32

	threadRunning atomic.Bool

	registry *ThreadRegistry

	startupOnce sync.Once
	startup     Startup

	// startupLock serializes concurrent try_enable calls.
	startupLock spinLock

	// processingThreadMu guards handle.
	processingThreadMu sync.Mutex
	handle              *workerHandle

	sink event.Sink

	// body is the opaque processing-thread routine. Its lifecycle is
	// owned by the Machine; its behavior is not.
	body func(m *Machine)

	// resolveOriginalSyms and patchAllocator run, in that order, at the
	// tail of try_enable, after the worker is confirmed running and every
	// TLS record has been enabled (the registry lock is no longer held):
	// resolving the dlsym(RTLD_NEXT, ...) originals, then patching
	// jemalloc. Kept as injectable hooks so the ELF patcher
	// (x86-64 only) and the cgo dlsym resolver stay out of this package's
	// direct dependency graph.
	resolveOriginalSyms func()
	patchAllocator      func()
}

// New constructs a Machine. sink receives every InternalEvent the core
// emits; body is the processing-thread's routine; startup runs once, the
// first time the machine transitions out of StateUninitialized.
func New(sink event.Sink, body func(m *Machine), startup Startup) *Machine {
	if sink == nil {
		sink = event.Discard
	}
	m := &Machine{
		registry:            newThreadRegistry(),
		sink:                sink,
		body:                body,
		startup:             startup,
		resolveOriginalSyms: func() {},
		patchAllocator:      func() {},
	}
	return m
}

// SetPostEnableHooks installs the dlsym-resolution and allocator-patch
// hooks run at the tail of try_enable. Called once during program wiring,
// before any intercepted allocation can reach try_enable.
func (m *Machine) SetPostEnableHooks(resolveOriginalSyms, patchAllocator func()) {
	if resolveOriginalSyms != nil {
		m.resolveOriginalSyms = resolveOriginalSyms
	}
	if patchAllocator != nil {
		m.patchAllocator = patchAllocator
	}
}

func (m *Machine) loadState() State     { return State(m.state.Load()) }
func (m *Machine) storeState(s State)   { m.state.Store(uint32(s)) }
func (m *Machine) loadDesired() Desired { return Desired(m.desired.Load()) }
func (m *Machine) storeDesired(d Desired) {
	m.desired.Store(uint32(d))
}

// casState attempts an atomic Disabled->Starting-style transition.
func (m *Machine) casState(from, to State) bool {
	return m.state.CompareAndSwap(uint32(from), uint32(to))
}

// Toggle rotates Desired through Disabled->Enabled, Suspended->Enabled,
// Enabled->Suspended. It never sets Disabled — that value is reserved for
// shutdown.
func (m *Machine) Toggle() {
	if m.loadState() == StatePermanentlyDisabled {
		return
	}

	for {
		cur := m.loadDesired()
		var next Desired
		switch cur {
		case DesiredDisabled:
			log.Info("tracing will be toggled on (for the first time)")
			next = DesiredEnabled
		case DesiredSuspended:
			log.Info("tracing will be toggled on")
			next = DesiredEnabled
		case DesiredEnabled:
			log.Info("tracing will be toggled off")
			next = DesiredSuspended
		default:
			panic("core: invalid desired state")
		}
		if m.desired.CompareAndSwap(uint32(cur), uint32(next)) {
			return
		}
	}
}

// Enable sets Desired=Enabled, returning true iff it changed.
func (m *Machine) Enable() bool {
	if m.loadState() == StatePermanentlyDisabled {
		return false
	}
	old := Desired(m.desired.Swap(uint32(DesiredEnabled)))
	return old != DesiredEnabled
}

// Disable sets Desired=Suspended, returning true iff the previous value
// was Enabled.
func (m *Machine) Disable() bool {
	if m.loadState() == StatePermanentlyDisabled {
		return false
	}
	old := Desired(m.desired.Swap(uint32(DesiredSuspended)))
	return old == DesiredEnabled
}

// IsActivelyRunning reports whether the user's intent is Enabled, using
// relaxed-equivalent semantics — Go's atomics don't distinguish relaxed vs
// seqcst loads, and this is meant to be a cheap, approximate check.
func (m *Machine) IsActivelyRunning() bool {
	return m.loadDesired() == DesiredEnabled
}

// isBusy is the sync() predicate: Starting or Stopping is always busy;
// additionally, wanting to stop while the worker is still running and the
// state hasn't caught up yet is busy.
func (m *Machine) isBusy() bool {
	state := m.loadState()
	if state == StateStarting || state == StateStopping {
		return true
	}
	desired := m.loadDesired()
	if desired == DesiredDisabled && m.threadRunning.Load() && state == StateEnabled {
		return true
	}
	return false
}

// Sync blocks the caller until the state machine is quiescent, joining the
// worker if and only if the actual state is Stopping or Disabled.
func (m *Machine) Sync() {
	m.trySyncProcessingThreadDestruction()
	for m.isBusy() {
		time.Sleep(time.Millisecond)
	}
	m.trySyncProcessingThreadDestruction()
}

func (m *Machine) trySyncProcessingThreadDestruction() {
	m.processingThreadMu.Lock()
	defer m.processingThreadMu.Unlock()
	state := m.loadState()
	if (state == StateStopping || state == StateDisabled) && m.handle != nil {
		m.handle.join()
		m.handle = nil
	}
}

// tryEnable is the cold, lazy-enable path run on every intercepted
// allocation while the actual state isn't Enabled. It returns true iff the
// machine is now Enabled as a direct result of this call's handshake with
// the worker — callers should re-check state after a false return, since
// another racing caller may have won.
func (m *Machine) tryEnable() bool {
	state := m.loadState()

	if state == StateUninitialized {
		m.storeState(StateDisabled)
		m.startupOnce.Do(func() {
			if m.startup != nil {
				m.startup()
			}
		})
		state = StateDisabled
	}

	if m.loadDesired() == DesiredDisabled {
		return false
	}

	if !m.casState(StateDisabled, StateStarting) {
		return false
	}

	if !m.startupLock.TryLock() {
		return false
	}
	defer m.startupLock.Unlock()

	m.registry.assertEnabledForNewThreadsFalse()

	unwind.PrepareToStartUnwinding()
	m.spawnProcessingThread()

	m.registry.setEnabledForNewThreads(true)

	m.resolveOriginalSyms()
	m.patchAllocator()

	m.storeState(StateEnabled)
	log.Info("tracing was enabled")
	return true
}

// tryDisableIfRequested transitions Enabled->Stopping when Desired has
// become Disabled, emitting the single Exit event. Returns true iff this
// call performed the transition.
func (m *Machine) tryDisableIfRequested() bool {
	if m.loadDesired() != DesiredDisabled {
		return false
	}
	if !m.casState(StateEnabled, StateStopping) {
		return false
	}
	m.EmitExit()
	return true
}

// PollShutdown is the processing-thread body's hook into
// tryDisableIfRequested: the worker observes DESIRED=Disabled by calling
// this once per loop iteration. A true return means Exit has just been
// emitted and the body must return, letting spawnProcessingThread finish
// the worker's teardown.
func (m *Machine) PollShutdown() bool { return m.tryDisableIfRequested() }

// Registry exposes the thread registry to sibling packages that need it
// (the processing-thread body calls GarbageCollectDeadThreads on it).
func (m *Machine) Registry() *ThreadRegistry { return m.registry }

// State returns the current actual state, for diagnostics and tests.
func (m *Machine) State() State { return m.loadState() }

// Desired returns the current desired state, for diagnostics and tests.
func (m *Machine) Desired() Desired { return m.loadDesired() }

// ThreadRunning reports whether the processing thread is currently
// between its entry and exit.
func (m *Machine) ThreadRunning() bool { return m.threadRunning.Load() }
