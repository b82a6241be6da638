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

//go:build linux && amd64

package jepatch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"memsentry.dev/memsentry/internal/auxv"
	"memsentry.dev/memsentry/internal/logging"
)

var log = logging.For("jepatch")

// Patch implements the six-step patch procedure:
//  1. locate the executable via the auxiliary vector, falling back to
//     /proc/self/exe;
//  2/3/4. open the ELF image, compute the load bias as AT_PHDR - e_phoff,
//     and resolve each replacement's symbol to bias + st_value;
//  5. (no explicit unmap step — debug/elf reads through a file handle,
//     not an mmap, so there is nothing to release beyond closing the
//     file, which Patch does internally);
//  6. for each resolved address, mprotect its page RW+X, splice a
//     six-byte `jmp [rip+0]` plus an 8-byte absolute destination, and
//     restore R+X.
//
// If none of the requested symbols resolve, jemalloc is assumed absent
// and Patch returns nil without error, logging the fact. A missing
// individual symbol is logged and skipped. OS failures opening or reading
// the executable are returned as errors — an ELF-scan OS failure is fatal
// to the caller.
func Patch(replacements []Replacement) error {
	path, err := auxv.ExecutablePath()
	if err != nil {
		return fmt.Errorf("jepatch: %w", err)
	}

	vec, err := auxv.Read()
	if err != nil {
		return fmt.Errorf("jepatch: reading auxv for load bias: %w", err)
	}

	addrs, err := resolveSymbols(path, vec.Phdr, replacements)
	if err != nil {
		return fmt.Errorf("jepatch: %w", err)
	}

	anyFound := false
	for _, addr := range addrs {
		if addr != 0 {
			anyFound = true
			break
		}
	}
	if !anyFound {
		log.Info("jemalloc not found in the executable's address space")
		return nil
	}

	pageSize := uintptr(unix.Getpagesize())
	for _, r := range replacements {
		addr := addrs[r.Name]
		if addr == 0 {
			log.WithField("symbol", r.Name).Info("symbol not found")
			continue
		}
		if err := writeTrampoline(addr, r.Address, pageSize); err != nil {
			log.WithField("symbol", r.Name).WithError(err).Warn("failed to patch symbol")
		} else {
			log.WithField("symbol", r.Name).WithField("address", fmt.Sprintf("0x%016x", addr)).Info("patched")
		}
	}
	return nil
}

// resolveSymbols reads the on-disk ELF file at path and resolves every
// replacement's target symbol to a runtime address using the program's
// own load bias.
func resolveSymbols(path string, atPhdr uintptr, replacements []Replacement) (map[string]uintptr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening executable %q: %w", path, err)
	}
	defer f.Close()

	ephoff, err := readPhoff(f)
	if err != nil {
		return nil, err
	}
	bias := atPhdr - ephoff

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("parsing ELF headers of %q: %w", path, err)
	}
	defer ef.Close()

	syms, err := ef.Symbols()
	if err != nil {
		// ErrNoSymbols means the binary was stripped or has no .symtab;
		// this is the normal "jemalloc not statically linked in" case,
		// not an OS failure, so the caller's "nothing resolved" handling
		// covers it.
		if err == elf.ErrNoSymbols {
			return map[string]uintptr{}, nil
		}
		return nil, fmt.Errorf("reading symbol table of %q: %w", path, err)
	}

	wanted := make(map[string]bool, len(replacements))
	for _, r := range replacements {
		wanted[r.Name] = true
	}

	addrs := make(map[string]uintptr, len(replacements))
	for _, sym := range syms {
		if !wanted[sym.Name] {
			continue
		}
		addrs[sym.Name] = bias + uintptr(sym.Value)
	}
	return addrs, nil
}

// readPhoff reads e_phoff straight out of the raw ELF64 header: it sits
// at a fixed byte offset (0x20) that debug/elf's FileHeader does not
// surface, since the rest of the patcher only needs it transiently to
// compute the load bias as AT_PHDR - e_phoff.
func readPhoff(f *os.File) (uintptr, error) {
	var ident [64]byte
	if _, err := f.ReadAt(ident[:], 0); err != nil {
		return 0, fmt.Errorf("reading ELF header: %w", err)
	}
	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return 0, fmt.Errorf("not an ELF file")
	}
	if ident[4] != 2 { // ELFCLASS64
		return 0, fmt.Errorf("only 64-bit ELF executables are supported")
	}
	return uintptr(binary.LittleEndian.Uint64(ident[32:40])), nil
}

// writeTrampoline splices the six-byte `jmp [rip+0]` opcode (0xFF 0x25
// followed by a zero 32-bit displacement) and the 8-byte absolute
// destination address into addr, bracketing the write with mprotect
// calls that temporarily add write permission to the enclosing page.
// Failure of the restoring mprotect is logged only, not treated as fatal
// to Patch's loop.
func writeTrampoline(addr, replacement uintptr, pageSize uintptr) error {
	page := addr &^ (pageSize - 1)
	pageMem := unsafe.Slice((*byte)(unsafe.Pointer(page)), int(pageSize))

	if err := unix.Mprotect(pageMem, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect(RWX): %w", err)
	}

	slot := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 14)
	slot[0] = 0xFF
	slot[1] = 0x25
	slot[2] = 0x00
	slot[3] = 0x00
	slot[4] = 0x00
	slot[5] = 0x00
	binary.LittleEndian.PutUint64(slot[6:14], uint64(replacement))

	if err := unix.Mprotect(pageMem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		log.WithError(err).Warn("mprotect(R+X) restore failed")
	}
	return nil
}
