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

	"github.com/cenkalti/backoff"
)

// OnExitRetries and onExitInterval implement the literal "2000 x 25ms"
// busy-wait ceiling (~50s) for the exit handshake (DESIGN.md Open
// Question 3).
const (
	OnExitRetries  = 2000
	onExitInterval = 25 * time.Millisecond
)

// OnExit is the atexit handler: if the machine is already permanently
// disabled, do nothing; otherwise request shutdown and busy-wait up to 50
// seconds for the worker to finish before letting the process continue
// exiting anyway. The single Exit event is emitted by the worker's own
// Enabled->Stopping transition (tryDisableIfRequested) once it observes
// DESIRED=Disabled, not by this method — emitting it here too would send
// it twice.
//
// The bounded retry uses cenkalti/backoff's constant-interval policy
// instead of a hand-rolled sleep loop. This is the only wait in the
// module built on that library: sync() sleeps in a millisecond loop, and
// try_enable, throttle, and allocation-lock acquisition spin with
// runtime.Gosched.
func (m *Machine) OnExit() {
	if m.loadState() == StatePermanentlyDisabled {
		return
	}

	m.storeDesired(DesiredDisabled)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(onExitInterval), OnExitRetries)
	_ = backoff.Retry(func() error {
		if !m.threadRunning.Load() {
			return nil
		}
		return errThreadStillRunning
	}, policy)

	log.Info("on_exit finished waiting for the processing thread")
}

// errThreadStillRunning is the retried sentinel; OnExit never surfaces it,
// since exceeding the retry budget is itself expected behavior — the
// process continues to exit anyway.
type exitWaitError struct{}

func (exitWaitError) Error() string { return "processing thread has not finished" }

var errThreadStillRunning = exitWaitError{}

// OnFork is the post-fork child handler. Only one
// thread survives fork() in the child; every lock the parent may have
// held at the moment of the fork describes a thread that no longer
// exists here, so recovery is unconditional rather than a negotiated
// handoff:
//  1. transition permanently out of service;
//  2. clear THREAD_RUNNING: the worker goroutine, if any, was orphaned by
//     the fork and will never reach its own teardown in the child, so
//     nothing else will ever reset this;
//  3. forcibly clear the registry spin lock, which may be held by a
//     parent thread that isn't the one now running;
//  4. drop every TLS record except the calling thread's;
//  5. disable the calling thread's TLS record, so it takes the normal
//     slow path (which will observe Permanently-Disabled and no-op) on
//     its next intercepted call.
func (m *Machine) OnFork(callingSystemTID uint32) {
	m.storeState(StatePermanentlyDisabled)
	m.storeDesired(DesiredDisabled)
	m.threadRunning.Store(false)

	m.registry.ForceUnlock()
	m.registry.retainOnly(callingSystemTID)

	if td, ok := m.registry.lookup(callingSystemTID); ok {
		td.setEnabled(false)
	}

	log.Warn("process forked: tracing permanently disabled in child")
}
