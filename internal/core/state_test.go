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
	"sync"
	"testing"
	"time"

	"memsentry.dev/memsentry/internal/event"
)

func collectingSink() (event.Sink, func() []event.InternalEvent) {
	var mu sync.Mutex
	var got []event.InternalEvent
	sink := event.SinkFunc(func(e event.InternalEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	return sink, func() []event.InternalEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.InternalEvent(nil), got...)
	}
}

// pollingBody mirrors internal/procbody's real shape closely enough for
// unit tests: it keeps the worker alive until PollShutdown observes
// DESIRED=Disabled, exactly the condition OnExit sets (DESIGN.md Open
// Question 4). A body that returns immediately would race the
// Starting->Enabled handshake in spawnProcessingThread, so tests use
// this instead of a no-op.
func pollingBody(m *Machine) {
	for {
		if m.PollShutdown() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLazyEnable verifies the lazy-enable path: starting from
// Uninitialized+Disabled, enable(), then the first intercepted call
// drives Uninitialized->Disabled->Starting->Enabled and spawns the
// worker.
func TestLazyEnable(t *testing.T) {
	sink, _ := collectingSink()
	m := New(sink, pollingBody, nil)
	t.Cleanup(m.OnExit)

	if m.State() != StateUninitialized {
		t.Fatalf("State() = %v, want Uninitialized", m.State())
	}
	if !m.Enable() {
		t.Fatal("Enable() = false on first call")
	}

	h, ok := m.Acquire(1001)
	if !ok {
		t.Fatal("Acquire() = false, want the lazy-enable path to succeed")
	}
	h.Drop()

	if m.State() != StateEnabled {
		t.Fatalf("State() = %v, want Enabled", m.State())
	}
	if !m.ThreadRunning() {
		t.Fatal("ThreadRunning() = false after try_enable handshake")
	}
}

// TestToggleRoundTrip verifies, per DESIGN.md's Open Question decision,
// that only a DESIRED=Disabled transition (driven by OnExit, not
// Disable()/Toggle()-to-Suspended) tears the worker down.
func TestToggleRoundTrip(t *testing.T) {
	sink, events := collectingSink()
	m := New(sink, pollingBody, nil)
	m.Enable()
	h, ok := m.Acquire(2002)
	if !ok {
		t.Fatal("Acquire failed to lazily enable")
	}
	h.Drop()

	m.Toggle()
	if m.Desired() != DesiredSuspended {
		t.Fatalf("Desired() = %v, want Suspended", m.Desired())
	}
	// Suspended must not stop the worker.
	time.Sleep(10 * time.Millisecond)
	if m.State() != StateEnabled {
		t.Fatalf("State() = %v after toggle-to-Suspended, want Enabled (worker must keep running)", m.State())
	}

	m.Toggle()
	if m.Desired() != DesiredEnabled {
		t.Fatalf("Desired() = %v, want Enabled", m.Desired())
	}

	m.OnExit()
	if m.State() != StateDisabled {
		t.Fatalf("State() after OnExit = %v, want Disabled", m.State())
	}

	var sawExit int
	for _, e := range events() {
		if e.Kind == event.KindExit {
			sawExit++
		}
	}
	if sawExit != 1 {
		t.Fatalf("saw %d Exit events, want exactly 1", sawExit)
	}
}

func TestSyncBlocksUntilQuiescent(t *testing.T) {
	sink, _ := collectingSink()
	release := make(chan struct{})
	m := New(sink, func(m *Machine) {
		<-release
	}, nil)
	m.Enable()
	h, ok := m.Acquire(3003)
	if !ok {
		t.Fatal("Acquire failed to lazily enable")
	}
	h.Drop()

	m.storeDesired(DesiredDisabled)
	close(release)

	done := make(chan struct{})
	go func() {
		m.Sync()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sync() did not return")
	}
	if m.State() != StateDisabled {
		t.Fatalf("State() = %v after Sync, want Disabled", m.State())
	}
}

func TestPermanentlyDisabledShortCircuitsPublicEntryPoints(t *testing.T) {
	sink, _ := collectingSink()
	m := New(sink, pollingBody, nil)
	m.storeState(StatePermanentlyDisabled)

	if m.Enable() {
		t.Error("Enable() should be a no-op once permanently disabled")
	}
	if m.Disable() {
		t.Error("Disable() should be a no-op once permanently disabled")
	}
	before := m.Desired()
	m.Toggle()
	if m.Desired() != before {
		t.Error("Toggle() should be a no-op once permanently disabled")
	}
}
