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

func TestBootstrapIsIdempotentPerThread(t *testing.T) {
	r := newThreadRegistry()

	first := r.bootstrap(10)
	second := r.bootstrap(10)
	if first != second {
		t.Fatal("bootstrap returned a new record for an already-known system tid")
	}

	other := r.bootstrap(11)
	if other == first {
		t.Fatal("bootstrap returned the same record for two distinct system tids")
	}
	if other.InternalTID() == first.InternalTID() {
		t.Fatal("distinct threads must get distinct internal tids")
	}
}

func TestBootstrapSeedsEnabledFromRegistryDefault(t *testing.T) {
	r := newThreadRegistry()
	r.setEnabledForNewThreads(true)

	td := r.bootstrap(20)
	if !td.IsEnabled() {
		t.Fatal("newly bootstrapped thread should inherit enabled_for_new_threads=true")
	}
}

func TestSetEnabledForNewThreadsSkipsInternal(t *testing.T) {
	r := newThreadRegistry()
	app := r.bootstrap(1)
	worker := r.bootstrap(2)
	worker.isInternal = true
	worker.setEnabled(false)

	r.setEnabledForNewThreads(true)

	if !app.IsEnabled() {
		t.Error("non-internal thread must be swept to enabled=true")
	}
	if worker.IsEnabled() {
		t.Error("internal thread must never be swept to enabled=true")
	}
}

func TestGarbageCollectDeadThreadsRespectsGracePeriod(t *testing.T) {
	r := newThreadRegistry()
	r.bootstrap(30)

	now := time.Now()
	r.NotifyThreadExit(30, now)

	r.GarbageCollectDeadThreads(now.Add(1 * time.Second))
	if _, ok := r.lookup(30); !ok {
		t.Fatal("thread evicted before its grace period elapsed")
	}

	r.GarbageCollectDeadThreads(now.Add(deadThreadGrace + time.Second))
	if _, ok := r.lookup(30); ok {
		t.Fatal("thread not evicted after its grace period elapsed")
	}
}

func TestGarbageCollectDeadThreadsSkipsReusedTID(t *testing.T) {
	r := newThreadRegistry()
	died := time.Now()
	r.bootstrap(40)
	r.NotifyThreadExit(40, died)

	// A new thread reuses the same system tid before GC runs.
	r.lock.Lock()
	delete(r.threads, 40)
	r.lock.Unlock()
	reborn := r.bootstrap(40)

	r.GarbageCollectDeadThreads(died.Add(deadThreadGrace + time.Second))

	current, ok := r.lookup(40)
	if !ok || current != reborn {
		t.Fatal("GC evicted a live record that happens to share a reused system tid")
	}
}

func TestRetainOnlyKeepsOnlyGivenThread(t *testing.T) {
	r := newThreadRegistry()
	keep := r.bootstrap(50)
	r.bootstrap(51)
	r.bootstrap(52)
	r.NotifyThreadExit(51, time.Now())

	r.retainOnly(50)

	if kept, ok := r.lookup(50); !ok || kept != keep {
		t.Fatal("retainOnly dropped the record it was told to keep")
	}
	if _, ok := r.lookup(51); ok {
		t.Fatal("retainOnly kept a record other than the requested one")
	}
	if _, ok := r.lookup(52); ok {
		t.Fatal("retainOnly kept a record other than the requested one")
	}
	if len(r.deadThreadQueue) != 0 {
		t.Fatal("retainOnly must also clear the dead-thread queue")
	}
}

func TestAssertEnabledForNewThreadsFalsePanicsOnViolation(t *testing.T) {
	r := newThreadRegistry()
	r.enabledForNewThreads = true

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when the invariant is violated")
		}
	}()
	r.assertEnabledForNewThreadsFalse()
}
