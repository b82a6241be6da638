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

// spinLock is a process-internal mutual-exclusion primitive built directly
// on an atomic flag. No third-party dependency here exposes an in-process
// spinlock (gofrs/flock is an OS-level file lock, a different concern
// entirely), so it is hand-rolled rather than imported.
//
// It exists because the registry lock must be forcibly resettable after
// fork: a sync.Mutex that records ownership has no portable "force
// unlock" operation, whereas a bare atomic flag does.
type spinLock struct {
	state uint32
}

const (
	spinUnlocked = 0
	spinLocked   = 1
)

// Lock spins until the lock is acquired.
func (s *spinLock) Lock() {
	for !atomic.CompareAndSwapUint32(&s.state, spinUnlocked, spinLocked) {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (s *spinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.state, spinUnlocked, spinLocked)
}

// Unlock releases the lock. Unlocking an already-unlocked spinLock is a
// no-op, which is what makes ForceUnlock safe to call unconditionally.
func (s *spinLock) Unlock() {
	atomic.StoreUint32(&s.state, spinUnlocked)
}

// ForceUnlock resets the lock regardless of current ownership. Safe to call
// only when it's known that no other thread exists that could be holding
// it — specifically, right after fork() in the child, where the parent may
// have held the lock at the moment of the fork but the thread that held it
// does not exist in the child.
func (s *spinLock) ForceUnlock() {
	atomic.StoreUint32(&s.state, spinUnlocked)
}
