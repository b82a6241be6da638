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

package core

import (
	"runtime"

	"memsentry.dev/memsentry/internal/event"
	"memsentry.dev/memsentry/internal/unwind"
)

// StrongThreadHandle is a non-sendable, re-entry-suppressing scoped
// acquisition of the current thread's TLS record. While held, the owning
// thread's enabled flag is false: any intercepted call made from inside
// the profiler's own logic observes enabled=false and skips its work,
// which is the core's entire re-entrancy defense.
//
// A StrongThreadHandle must never be passed to another goroutine/thread;
// it is tied to the OS thread it was acquired on.
type StrongThreadHandle struct {
	m  *Machine
	td *ThreadData
}

// WeakThreadHandle is a sendable, identifier-only reference produced by
// Decay.
type WeakThreadHandle struct {
	td *ThreadData
}

// SystemTID returns the OS thread id this handle refers to.
func (w WeakThreadHandle) SystemTID() uint32 { return w.td.SystemTID() }

// UniqueTID returns the process-unique internal thread id.
func (w WeakThreadHandle) UniqueTID() uint64 { return w.td.InternalTID() }

// Acquire implements the handle acquisition contract:
//  1. if the machine isn't Enabled, try the lazy-enable path;
//  2. look up (or bootstrap) this thread's TLS record;
//  3. throttle-spin if this thread's handle refcount has hit the limit;
//  4. bail out if the thread is currently disabled (re-entry guard);
//  5. atomically flip enabled=false and hand back a strong handle.
//
// systemTID must be the calling OS thread's kernel tid (the caller is
// expected to be pinned via runtime.LockOSThread for the scope of this
// call, as every intercepted-allocation call site is).
//
// This registry-keyed design has no notion of "the thread-local slot was
// already destroyed" (Go has no TLS destructor hook — see DESIGN.md Open
// Question 1): a dead thread's record stays in the registry's live map
// until GarbageCollectDeadThreads evicts it, under the same lock a lookup
// would use, so bootstrap never has to race a teardown-in-progress record.
func (m *Machine) Acquire(systemTID uint32) (StrongThreadHandle, bool) {
	if m.loadState() != StateEnabled {
		if !m.tryEnable() {
			return StrongThreadHandle{}, false
		}
	}

	td, ok := m.registry.lookup(systemTID)
	if !ok {
		td = m.registry.bootstrap(systemTID)
	}

	if td.handleRefs.get() >= throttleLimit {
		m.throttle(td)
	}

	if !td.IsEnabled() {
		return StrongThreadHandle{}, false
	}

	td.setEnabled(false)
	td.handleRefs.add(1)
	return StrongThreadHandle{m: m, td: td}, true
}

// throttle cooperates with AllocationLock: while the lock is held, other
// threads' refcounts are inflated by throttleLimit, so any acquisition
// attempt parks here until the lock is released.
func (m *Machine) throttle(td *ThreadData) {
	for td.handleRefs.get() >= throttleLimit {
		runtime.Gosched()
	}
}

// Decay consumes the strong handle and returns a sendable weak handle,
// re-enabling the thread in the process.
func (h StrongThreadHandle) Decay() WeakThreadHandle {
	h.td.setEnabled(true)
	h.td.handleRefs.sub(1)
	return WeakThreadHandle{td: h.td}
}

// Drop releases the strong handle, re-enabling the thread. Idiomatic Go
// callers invoke this via `defer handle.Drop()` in place of RAII scoping.
func (h StrongThreadHandle) Drop() {
	if h.td == nil {
		return
	}
	h.td.setEnabled(true)
	h.td.handleRefs.sub(1)
}

// UnwindState returns the thread's unwinder scratch space. Valid only for
// the owning thread, which holding a StrongThreadHandle guarantees.
func (h StrongThreadHandle) UnwindState() *unwind.ThreadState { return h.td.unwindState }

// UnwindCache returns the thread's shared unwinder cache.
func (h StrongThreadHandle) UnwindCache() *unwind.Cache { return h.td.unwindCache }

// OnNewAllocation returns the unique id to attach to the next event and
// advances the per-thread counter. The counter runs on the owning thread
// only, so no atomicity is needed.
func (h StrongThreadHandle) OnNewAllocation() event.AllocationID {
	id := event.AllocationID{InternalTID: h.td.InternalTID(), Counter: h.td.allocationCounter}
	h.td.allocationCounter++
	return id
}
