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
	"testing"
	"time"
)

// TestAllocationLockWaitsForQuiescence verifies that the lock must not
// proceed past Acquire() while another thread holds a live strong
// handle, and must proceed the instant that handle is dropped.
func TestAllocationLockWaitsForQuiescence(t *testing.T) {
	m := enabledMachine(t)

	h, ok := m.Acquire(910)
	if !ok {
		t.Fatal("Acquire() = false")
	}
	// Looked up before the lock is taken: the allocation lock holds the
	// registry spin lock until Release, and lookup needs that same lock.
	td, _ := m.registry.lookup(910)

	lock := m.NewAllocationLock(999)
	acquired := make(chan struct{})
	go func() {
		lock.Acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("AllocationLock.Acquire() returned while a strong handle was still outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	h.Drop()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("AllocationLock.Acquire() never returned after the outstanding handle was dropped")
	}

	if got := td.handleRefs.get(); got != throttleLimit {
		t.Fatalf("handleRefs = %d while lock held, want exactly throttleLimit (%d)", got, throttleLimit)
	}

	lock.Release()
	if got := td.handleRefs.get(); got != 0 {
		t.Fatalf("handleRefs = %d after Release(), want 0", got)
	}

	if _, ok := m.Acquire(910); !ok {
		t.Fatal("Acquire() should succeed again once the allocation lock released the thread")
	}
}

// TestAllocationLockSerializesAgainstItself exercises the registry spin
// lock held across Acquire/Release: a second allocation lock attempt
// must wait for the first to Release.
func TestAllocationLockSerializesAgainstItself(t *testing.T) {
	m := enabledMachine(t)

	first := m.NewAllocationLock(920)
	first.Acquire()

	second := m.NewAllocationLock(921)
	secondAcquired := make(chan struct{})
	go func() {
		second.Acquire()
		close(secondAcquired)
	}()

	select {
	case <-secondAcquired:
		t.Fatal("second AllocationLock.Acquire() proceeded while the first still held the registry lock")
	case <-time.After(20 * time.Millisecond):
	}

	first.Release()

	select {
	case <-secondAcquired:
		second.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second AllocationLock.Acquire() never proceeded after the first released")
	}
}
