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
	"sync/atomic"
)

// AllocationLock is a quiescence barrier: a way for the holder to be
// certain that no other thread is in the middle of servicing an
// allocation/deallocation callback, without ever blocking those threads on
// a mutex (which would risk deadlocking inside malloc itself). It works by
// repurposing each thread's handle refcount as a barrier: inflate every
// other thread's count by throttleLimit, then wait for it to read back as
// exactly throttleLimit — which can only happen once that thread has
// released whatever strong handle it was holding when the inflation
// landed, and the throttle check in Acquire (handle.go) stops it from
// acquiring a new one while inflated.
//
// AllocationLock itself holds no atomics; Acquire takes the registry's
// spin lock and holds it until Release, which is what excludes
// concurrent allocation-lock holders from each other.
type AllocationLock struct {
	m             *Machine
	heldSystemTID uint32
	members       []*ThreadData
}

// NewAllocationLock prepares a lock scoped to the calling thread
// (systemTID is excluded from the quiescence wait, since it's the thread
// requesting quiescence of every other thread).
func (m *Machine) NewAllocationLock(systemTID uint32) *AllocationLock {
	return &AllocationLock{m: m, heldSystemTID: systemTID}
}

// Acquire blocks until every other live, non-internal thread has been
// observed with no outstanding strong handle. The registry remains locked
// until Release.
func (a *AllocationLock) Acquire() {
	a.m.registry.Lock()

	a.members = a.members[:0]
	a.m.registry.forEachExcept(a.heldSystemTID, func(td *ThreadData) {
		td.handleRefs.add(throttleLimit)
		a.members = append(a.members, td)
	})

	// Sequentially consistent fence: Go's atomic ops are already
	// seqcst, so the add above and every spin-read below already carry
	// the ordering an explicit fence would provide.
	atomic.StoreUint32(&fenceWord, 1)

	for _, td := range a.members {
		for td.handleRefs.get() != throttleLimit {
			runtime.Gosched()
		}
	}

	atomic.StoreUint32(&fenceWord, 0)
}

// Release undoes the refcount inflation for every member thread and
// unlocks the registry, letting throttled Acquire callers on other
// threads proceed.
func (a *AllocationLock) Release() {
	for _, td := range a.members {
		td.handleRefs.sub(throttleLimit)
	}
	a.members = nil
	a.m.registry.Unlock()
}

// fenceWord is a shared dummy target for the acquire/release fences
// above. Go provides no standalone atomic.Fence primitive; storing to a
// shared location through sync/atomic is the idiomatic stand-in for a bare
// sequentially consistent fence with no particular data to tie it to.
var fenceWord uint32
