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

func enabledMachine(t *testing.T) *Machine {
	t.Helper()
	m := New(nil, pollingBody, nil)
	m.Enable()
	h, ok := m.Acquire(900)
	if !ok {
		t.Fatal("setup: Acquire failed to lazily enable the machine")
	}
	h.Drop()
	t.Cleanup(m.OnExit)
	return m
}

func TestAcquireDisablesThreadWhileHeld(t *testing.T) {
	m := enabledMachine(t)

	h, ok := m.Acquire(901)
	if !ok {
		t.Fatal("Acquire() = false")
	}
	td, _ := m.registry.lookup(901)
	if td.IsEnabled() {
		t.Error("thread must be disabled while a strong handle is held (re-entry guard)")
	}

	h.Drop()
	if !td.IsEnabled() {
		t.Error("Drop() must re-enable the thread")
	}
}

// TestAcquireIsReentrancyGuard exercises the core's central invariant:
// a second Acquire from code already holding a handle on the same
// thread must fail rather than deadlock or double-count.
func TestAcquireIsReentrancyGuard(t *testing.T) {
	m := enabledMachine(t)

	h, ok := m.Acquire(902)
	if !ok {
		t.Fatal("first Acquire() = false")
	}
	defer h.Drop()

	if _, ok := m.Acquire(902); ok {
		t.Fatal("nested Acquire() on the same thread succeeded; re-entrancy guard broken")
	}
}

func TestDecayReenablesAndReturnsWeakHandle(t *testing.T) {
	m := enabledMachine(t)

	h, ok := m.Acquire(903)
	if !ok {
		t.Fatal("Acquire() = false")
	}
	w := h.Decay()
	if w.SystemTID() != 903 {
		t.Errorf("SystemTID() = %d, want 903", w.SystemTID())
	}

	td, _ := m.registry.lookup(903)
	if !td.IsEnabled() {
		t.Error("Decay() must re-enable the thread")
	}
	if td.handleRefs.get() != 0 {
		t.Errorf("handleRefs = %d after Decay(), want 0", td.handleRefs.get())
	}
}

func TestOnNewAllocationAdvancesPerThreadCounter(t *testing.T) {
	m := enabledMachine(t)

	h, ok := m.Acquire(904)
	if !ok {
		t.Fatal("Acquire() = false")
	}
	defer h.Drop()

	first := h.OnNewAllocation()
	second := h.OnNewAllocation()
	if first.Counter == second.Counter {
		t.Fatal("OnNewAllocation must advance the per-thread counter")
	}
	if first.InternalTID != second.InternalTID {
		t.Fatal("both ids must carry the same thread's internal tid")
	}
}

func TestThrottleParksUntilRefcountDrainsBelowLimit(t *testing.T) {
	m := enabledMachine(t)
	td := m.registry.bootstrap(905)
	td.handleRefs.add(throttleLimit)

	unparked := make(chan struct{})
	go func() {
		m.throttle(td)
		close(unparked)
	}()

	select {
	case <-unparked:
		t.Fatal("throttle returned before the refcount dropped below the limit")
	case <-time.After(20 * time.Millisecond):
	}

	td.handleRefs.sub(throttleLimit)

	select {
	case <-unparked:
	case <-time.After(2 * time.Second):
		t.Fatal("throttle did not return after the refcount dropped")
	}
}
