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

//go:build linux

package core

/*
#include <pthread.h>

extern void memsentryForkChildHandler(void);

static int install_atfork_child_handler(void) {
	return pthread_atfork(NULL, NULL, memsentryForkChildHandler);
}
*/
import "C"

import "sync"

// installForkHookOnce guards pthread_atfork registration: it must happen
// at most once per process, the first time a Machine is wired up to call
// OnFork. The post-fork child handler is installed once, by the first
// InstallForkHook call; no atexit handler is installed here.
var installForkHookOnce sync.Once

// forkHookMachine is the single Machine instance OnFork is dispatched to.
// pthread_atfork's child callback is a bare C function pointer with no
// user-data slot, so the callback that crosses back into Go
// (memsentryForkChildHandler, below) has nothing to close over but a
// package-level variable — there is only ever one process-wide global
// state machine.
var forkHookMachine *Machine

// InstallForkHook registers m as the target of the post-fork child
// handler and installs that handler via pthread_atfork, exactly once per
// process. Safe to call multiple times; only the first call's Machine
// wins.
func InstallForkHook(m *Machine) {
	installForkHookOnce.Do(func() {
		forkHookMachine = m
		if rc := C.install_atfork_child_handler(); rc != 0 {
			log.WithField("errno", int(rc)).Error("pthread_atfork registration failed")
		}
	})
}

//export memsentryForkChildHandler
func memsentryForkChildHandler() {
	if forkHookMachine == nil {
		return
	}
	forkHookMachine.OnFork(currentSystemTID())
}
