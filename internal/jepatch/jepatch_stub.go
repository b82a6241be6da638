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

//go:build !(linux && amd64)

package jepatch

import "memsentry.dev/memsentry/internal/logging"

var log = logging.For("jepatch")

// Patch is a no-op outside Linux/x86-64: the trampoline technique is
// inherently tied to the x86-64 jmp encoding and Linux's ELF/auxv
// conventions.
func Patch(replacements []Replacement) error {
	log.Debug("jemalloc patcher is unsupported on this platform; skipping")
	return nil
}
