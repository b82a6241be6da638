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

// Package unwind provides the per-thread cache and scratch state that the
// core stores and clears on behalf of an external stack unwinder, and the
// process-wide priming hook the core calls on the lazy-enable path.
// The unwinder's actual frame-walking algorithm is out of scope for the
// core — this package only defines the shapes the core is contractually
// responsible for managing.
package unwind

import "sync"

// Cache is the shared, per-thread unwinder cache the core hands out via
// StrongThreadHandle.UnwindCache. It is deliberately empty of unwinding
// logic; real implementations would keep debug-info lookups, compiled
// frame-pointer tables, etc. The core's only interaction with it is
// construction and clearing: caches are cleared on processing-thread
// teardown and lazily rebuilt on demand, never force-rebuilt on re-enable.
type Cache struct {
	mu      sync.Mutex
	entries map[uintptr]struct{}
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uintptr]struct{})}
}

// Clear drops all cached entries in place, so existing holders of the
// *Cache pointer observe the clear without needing a new pointer installed
// into ThreadData.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uintptr]struct{})
}

// Remember records that addr has been resolved, for illustration of the
// cache's intended use; real symbolication is out of scope here.
func (c *Cache) Remember(addr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = struct{}{}
}

// Has reports whether addr has previously been cached.
func (c *Cache) Has(addr uintptr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[addr]
	return ok
}

// ThreadState is per-thread unwinder scratch space, accessed only by the
// owning thread through a held StrongThreadHandle.
type ThreadState struct {
	// Frames is reused across calls to avoid allocating on every walk.
	Frames []uintptr
}

// NewThreadState constructs scratch state with a small preallocated frame
// buffer.
func NewThreadState() *ThreadState {
	return &ThreadState{Frames: make([]uintptr, 0, 64)}
}

// PrepareToStartUnwinding is called from the lazy-enable path each time the
// machine starts, before the processing thread is spawned. It's the hook a real unwinder would
// use to parse the binary's unwind tables; here it's an intentional no-op
// placeholder for that external collaborator.
func PrepareToStartUnwinding() {}
