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

import "golang.org/x/sys/unix"

// currentSystemTID returns the calling OS thread's kernel thread id. Valid
// only when called from a goroutine pinned with runtime.LockOSThread, since
// Go otherwise may migrate goroutines between OS threads between calls.
func currentSystemTID() uint32 {
	return uint32(unix.Gettid())
}
