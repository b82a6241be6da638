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

// Package jepatch implements the x86-64, Linux-only in-binary patcher for
// a statically linked jemalloc: when the allocator's entry points are
// compiled directly into the executable under `_rjem_`-prefixed names
// instead of being dynamically interposable, the only way to redirect
// them is to locate their runtime addresses by reading the binary's own
// ELF symbol table and splice a jump in place.
//
// This technique is inherently architecture- and OS-specific (x86-64
// machine code, Linux's /proc/self/auxv and ELF conventions); non-Linux
// or non-amd64 builds get the no-op Patch in jepatch_stub.go.
package jepatch

// TargetSymbols lists jemalloc's statically-linked entry points, in the
// exact order and spelling the interceptor being patched (`_rjem_`-
// prefixed) defines them.
var TargetSymbols = []string{
	"_rjem_malloc",
	"_rjem_mallocx",
	"_rjem_calloc",
	"_rjem_sdallocx",
	"_rjem_realloc",
	"_rjem_rallocx",
	"_rjem_nallocx",
	"_rjem_xallocx",
	"_rjem_malloc_usable_size",
	"_rjem_mallctl",
	"_rjem_posix_memalign",
	"_rjem_aligned_alloc",
	"_rjem_free",
	"_rjem_sallocx",
	"_rjem_dallocx",
	"_rjem_mallctlnametomib",
	"_rjem_mallctlbymib",
	"_rjem_malloc_stats_print",
}

// Replacement pairs one of TargetSymbols with the address execution
// should be diverted to. Resolution is by Name, not position, so callers
// need not supply all 18 or any particular order.
type Replacement struct {
	Name    string
	Address uintptr
}
