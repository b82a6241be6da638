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
	"sync/atomic"

	"memsentry.dev/memsentry/internal/unwind"
)

// ThreadData is the per-thread record: one per application thread,
// shared-ownership (many readers from one writer thread), carrying
// identifiers, the enable flag, unwinder state, and the per-thread
// allocation counter.
//
// Go's garbage collector already owns ThreadData's memory lifetime, so
// this type does not implement manual reference counting for memory
// safety — only the logical handleRefs counter needed as the allocation
// lock's quiescence signal.
type ThreadData struct {
	// systemTID is the OS thread id. Immutable after construction.
	systemTID uint32
	// internalTID is the process-unique dense id assigned at first
	// observation. Immutable after construction.
	internalTID uint64

	// isInternal is true exactly for the processing thread's own record.
	// Set once during that thread's bootstrap; never mutated again; read
	// without synchronization.
	isInternal bool

	// enabled is read on every intercepted call and written by the
	// enable/disable sweeps and by the handle protocol. Relaxed ordering
	// is sufficient: it's set atomically by the producer (handle
	// acquisition), and any reader observing true also observes
	// everything published before the flip.
	enabled atomic.Bool

	// handleRefs is the quiescence-signal refcount.
	handleRefs refcount

	unwindCache *unwind.Cache
	unwindState *unwind.ThreadState

	// allocationCounter runs on the owning thread only; no atomicity is
	// needed.
	allocationCounter uint64
}

// newThreadData constructs a fresh record for systemTID, with enabled
// seeded from the registry's enabled-for-new-threads flag.
func newThreadData(systemTID uint32, internalTID uint64, enabledForNewThreads bool) *ThreadData {
	td := &ThreadData{
		systemTID:         systemTID,
		internalTID:       internalTID,
		unwindCache:       unwind.NewCache(),
		unwindState:       unwind.NewThreadState(),
		allocationCounter: 1,
	}
	td.enabled.Store(enabledForNewThreads)
	return td
}

// SystemTID returns the OS thread id.
func (td *ThreadData) SystemTID() uint32 { return td.systemTID }

// InternalTID returns the process-unique dense id.
func (td *ThreadData) InternalTID() uint64 { return td.internalTID }

// IsInternal reports whether this is the processing thread's own record.
func (td *ThreadData) IsInternal() bool { return td.isInternal }

// IsEnabled reports the current enabled flag (relaxed load).
func (td *ThreadData) IsEnabled() bool { return td.enabled.Load() }

func (td *ThreadData) setEnabled(v bool) { td.enabled.Store(v) }

// UnwindCache returns the thread's shared unwinder cache.
func (td *ThreadData) UnwindCache() *unwind.Cache { return td.unwindCache }
