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
	"time"

	"memsentry.dev/memsentry/internal/logging"
)

var regLog = logging.For("registry")

// deadThreadGrace is the duration a dead-thread entry must sit in the
// queue before it is evicted from the live map.
const deadThreadGrace = 3 * time.Second

// deadThreadEntry pairs a time of death with the record that died, so GC
// can later confirm the live map still points at the same record before
// evicting it.
type deadThreadEntry struct {
	diedAt time.Time
	thread *ThreadData
}

// ThreadRegistry is the process-wide singleton table mapping system thread
// id to its shared TLS handle, guarded by a spin lock.
type ThreadRegistry struct {
	lock spinLock

	enabledForNewThreads bool
	threads              map[uint32]*ThreadData
	deadThreadQueue      []deadThreadEntry
	threadCounter        uint64
}

// newThreadRegistry constructs an empty registry with thread_counter
// starting at 1.
func newThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{
		threads:       make(map[uint32]*ThreadData),
		threadCounter: 1,
	}
}

// bootstrap is the reentrant TLS initializer: on a thread's first
// intercepted call, assign it an internalTID, construct a ThreadData
// seeded from enabledForNewThreads, and register it. It is safe to call
// from inside the interceptor's own allocator replacements because it
// performs only plain map operations under the spin lock — no
// allocation-triggering library calls.
func (r *ThreadRegistry) bootstrap(systemTID uint32) *ThreadData {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.threads[systemTID]; ok {
		return existing
	}

	internalTID := r.threadCounter
	r.threadCounter++

	td := newThreadData(systemTID, internalTID, r.enabledForNewThreads)
	r.threads[systemTID] = td
	regLog.WithField("system_tid", systemTID).WithField("internal_tid", internalTID).Debug("thread bootstrapped")
	return td
}

// lookup returns the record for systemTID. A thread that has already exited
// is still found here until GarbageCollectDeadThreads evicts it, so a late
// allocation made during teardown still recovers the same record.
func (r *ThreadRegistry) lookup(systemTID uint32) (*ThreadData, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	td, ok := r.threads[systemTID]
	return td, ok
}

// setEnabledForNewThreads updates the registry-wide default and, under the
// same lock, sweeps every known non-internal thread to the same value.
func (r *ThreadRegistry) setEnabledForNewThreads(enabled bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.enabledForNewThreads = enabled
	for _, td := range r.threads {
		if td.IsInternal() {
			continue
		}
		td.setEnabled(enabled)
		if !enabled {
			td.UnwindCache().Clear()
		}
	}
}

// assertEnabledForNewThreadsFalse enforces the invariant try_enable checks
// before spawning the worker: the registry must not already believe new
// threads should be enabled.
func (r *ThreadRegistry) assertEnabledForNewThreadsFalse() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.enabledForNewThreads {
		panic("core: registry invariant violated: enabled_for_new_threads was already true in try_enable")
	}
}

// NotifyThreadExit records that systemTID has died, moving its entry into
// the dead-thread queue while leaving it in the live map so that late
// allocations during teardown still find the record. This stands in for a
// thread-local destructor hook; see DESIGN.md's Open Question 1 for why Go
// needs an explicit call here instead of one.
func (r *ThreadRegistry) NotifyThreadExit(systemTID uint32, now time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	td, ok := r.threads[systemTID]
	if !ok {
		return
	}
	r.deadThreadQueue = append(r.deadThreadQueue, deadThreadEntry{diedAt: now, thread: td})
	regLog.WithField("system_tid", systemTID).Debug("thread dropped")
}

// GarbageCollectDeadThreads drains the prefix of the dead-thread queue
// older than deadThreadGrace and evicts matching live-map entries, but only
// when the live entry still points at the exact same record — a new thread
// may since have reused the same system tid.
func (r *ThreadRegistry) GarbageCollectDeadThreads(now time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.deadThreadQueue) == 0 {
		return
	}

	count := 0
	for _, entry := range r.deadThreadQueue {
		if now.Sub(entry.diedAt) < deadThreadGrace {
			break
		}
		count++
	}
	if count == 0 {
		return
	}

	toEvict := r.deadThreadQueue[:count]
	r.deadThreadQueue = append([]deadThreadEntry(nil), r.deadThreadQueue[count:]...)

	for _, entry := range toEvict {
		if current, ok := r.threads[entry.thread.SystemTID()]; ok && current == entry.thread {
			delete(r.threads, entry.thread.SystemTID())
		}
	}
}

// forEachExcept calls fn for every non-internal thread other than
// exceptTID, used by the allocation lock. The caller must already hold
// the registry lock (via Lock/Unlock) for the duration.
func (r *ThreadRegistry) forEachExcept(exceptTID uint32, fn func(*ThreadData)) {
	for tid, td := range r.threads {
		if tid == exceptTID || td.IsInternal() {
			continue
		}
		fn(td)
	}
}

// retainOnly discards every thread record except keepSystemTID's and
// clears the dead-thread queue. Used exclusively by OnFork, where every
// other record describes a thread that no longer exists in this process.
func (r *ThreadRegistry) retainOnly(keepSystemTID uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()
	kept, ok := r.threads[keepSystemTID]
	r.threads = make(map[uint32]*ThreadData, 1)
	if ok {
		r.threads[keepSystemTID] = kept
	}
	r.deadThreadQueue = nil
}

// Lock acquires the registry's spin lock directly. Exported within the
// package for AllocationLock, which must hold the registry locked across
// its entire quiescence-wait window.
func (r *ThreadRegistry) Lock() { r.lock.Lock() }

// Unlock releases the registry's spin lock.
func (r *ThreadRegistry) Unlock() { r.lock.Unlock() }

// ForceUnlock resets the registry's spin lock unconditionally, used by
// OnFork to recover from a lock possibly held by a thread that no longer
// exists in the child process.
func (r *ThreadRegistry) ForceUnlock() { r.lock.ForceUnlock() }
