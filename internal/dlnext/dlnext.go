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

// Package dlnext resolves the dynamic linker's "next" definition of a
// symbol, the Go equivalent of dlsym(RTLD_NEXT, name). There is no portable
// non-cgo binding for dlsym, so cgo is the idiomatic FFI boundary for
// probing libc features directly from Go.
package dlnext

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

static void *resolve_next(const char *name) {
	return dlsym(RTLD_NEXT, name);
}
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Symbol is an opaque resolved function pointer.
type Symbol uintptr

// IsValid reports whether the symbol was actually resolved.
func (s Symbol) IsValid() bool { return s != 0 }

// Resolve looks up name via dlsym(RTLD_NEXT, name). A missing symbol is not
// an error at this layer — callers decide whether it's fatal, typically
// logging and degrading rather than aborting.
func Resolve(name string) Symbol {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	ptr := C.resolve_next(cname)
	return Symbol(uintptr(ptr))
}

// OriginalFrameSyms resolves the two unwinder-registration symbols the
// original interceptor stashes for later use: __register_frame and
// __deregister_frame. Either may legitimately be absent (statically linked
// binaries without libgcc_s, or no EH frame registration at all).
type OriginalFrameSyms struct {
	RegisterFrame   Symbol
	DeregisterFrame Symbol
}

// ResolveFrameSyms resolves both symbols and reports which (if any) were
// missing, mirroring the original's resolve_original_syms warning policy.
func ResolveFrameSyms() (OriginalFrameSyms, error) {
	var syms OriginalFrameSyms
	syms.RegisterFrame = Resolve("__register_frame")
	syms.DeregisterFrame = Resolve("__deregister_frame")

	switch {
	case !syms.RegisterFrame.IsValid() && !syms.DeregisterFrame.IsValid():
		return syms, fmt.Errorf("dlnext: neither __register_frame nor __deregister_frame found")
	case !syms.RegisterFrame.IsValid():
		return syms, fmt.Errorf("dlnext: __register_frame not found")
	case !syms.DeregisterFrame.IsValid():
		return syms, fmt.Errorf("dlnext: __deregister_frame not found")
	default:
		return syms, nil
	}
}

// registeredFrame and deregisteredFrame are the two process-wide slots
// holding whatever ResolveFrameSyms last found, so code outside the
// resolving call (a later unwinder hook, a diagnostic dump) can read the
// originals without re-resolving them.
var (
	registeredFrame   atomic.Uint64
	deregisteredFrame atomic.Uint64
)

// StoreOriginalFrameSyms stashes syms in the two process-global slots.
// Call this once after ResolveFrameSyms, even on its error return, since a
// partially resolved pair (one symbol found, one missing) is still useful.
func StoreOriginalFrameSyms(syms OriginalFrameSyms) {
	registeredFrame.Store(uint64(syms.RegisterFrame))
	deregisteredFrame.Store(uint64(syms.DeregisterFrame))
}

// OriginalRegisterFrame returns the last symbol stored for __register_frame,
// or the zero Symbol if StoreOriginalFrameSyms was never called or found none.
func OriginalRegisterFrame() Symbol { return Symbol(registeredFrame.Load()) }

// OriginalDeregisterFrame returns the last symbol stored for
// __deregister_frame, or the zero Symbol if StoreOriginalFrameSyms was never
// called or found none.
func OriginalDeregisterFrame() Symbol { return Symbol(deregisteredFrame.Load()) }
