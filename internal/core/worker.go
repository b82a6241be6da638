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
	"sync"

	"memsentry.dev/memsentry/internal/event"
)

// workerHandle is the joinable handle to the processing thread's goroutine.
type workerHandle struct {
	done chan struct{}
}

func (h *workerHandle) join() {
	if h == nil {
		return
	}
	<-h.done
}

// spawnProcessingThread asserts no worker is already running and records
// the new worker's handle under the processing-thread handle lock, then
// starts the worker goroutine after releasing that lock and spin-waits for
// the handshake signal before returning. It must be called while the
// caller already holds startupLock, since it runs as part of try_enable.
func (m *Machine) spawnProcessingThread() {
	log.Info("spawning event processing thread...")

	m.processingThreadMu.Lock()
	if m.threadRunning.Load() {
		m.processingThreadMu.Unlock()
		panic("core: spawnProcessingThread called while a worker is already running")
	}
	h := &workerHandle{done: make(chan struct{})}
	m.handle = h
	m.processingThreadMu.Unlock()

	var started sync.WaitGroup
	started.Add(1)

	go func() {
		defer close(h.done)

		// Lock to the OS thread for the duration: gettid()-keyed per-
		// thread bootstrap (DESIGN.md Open Question 1) requires a
		// stable OS thread identity, and the worker is a genuine
		// dedicated OS thread for its whole lifetime.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		td := m.bootstrapCurrentThreadAsInternal()
		if td.IsEnabled() {
			panic("core: internal thread must never be traced")
		}

		m.threadRunning.Store(true)
		started.Done()

		panicked := m.runBodyCatchingPanic()

		m.registry.setEnabledForNewThreads(false)
		m.storeState(StateDisabled)
		log.Info("tracing was disabled")
		m.threadRunning.Store(false)

		if panicked != nil {
			panic(panicked)
		}
	}()

	started.Wait()
	for !m.threadRunning.Load() {
		runtime.Gosched()
	}
}

// bootstrapCurrentThreadAsInternal registers the calling OS thread's
// ThreadData and marks it internal: the worker marks its own TLS record
// as internal and asserts its own enabled=false.
func (m *Machine) bootstrapCurrentThreadAsInternal() *ThreadData {
	td := m.registry.bootstrap(currentSystemTID())
	td.isInternal = true
	td.setEnabled(false)
	return td
}

// runBodyCatchingPanic runs the processing-thread body inside a recover
// guard, forcing a full shutdown on panic before re-raising it on this
// goroutine.
func (m *Machine) runBodyCatchingPanic() (recovered any) {
	defer func() {
		recovered = recover()
		if recovered != nil {
			m.storeDesired(DesiredDisabled)
		}
	}()
	if m.body != nil {
		m.body(m)
	}
	return nil
}

// EmitExit sends the single Exit event. tryDisableIfRequested is its only
// caller, firing it exactly once per enable/disable cycle as it wins the
// Enabled->Stopping transition.
func (m *Machine) EmitExit() {
	m.sink.Send(event.ExitEvent)
}

// Sink exposes the configured event sink to the processing-thread body.
func (m *Machine) Sink() event.Sink { return m.sink }
