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

// Package sink provides event.Sink implementations: a newline-delimited
// JSON file writer, a streaming writer over an arbitrary net.Conn, and a
// bounded-channel adapter that decouples either from the core's Send call.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"memsentry.dev/memsentry/internal/event"
	"memsentry.dev/memsentry/internal/logging"
)

var log = logging.For("sink")

// record is the on-disk JSON shape. It is a separate type from
// event.InternalEvent so the wire format can evolve without the core's
// internal struct leaking field tags or json-specific concerns into
// internal/event, which is kept free of encoding decisions.
type record struct {
	Kind          string `json:"kind"`
	AllocationID  string `json:"allocation_id,omitempty"`
	SystemTID     uint32 `json:"system_tid,omitempty"`
	Size          uint64 `json:"size,omitempty"`
	Address       uint64 `json:"address,omitempty"`
	UnwindUserTag uint64 `json:"unwind_user_tag,omitempty"`
}

func toRecord(e event.InternalEvent) record {
	r := record{Kind: e.Kind.String()}
	if e.Kind == event.KindAlloc {
		a := e.Alloc
		r.AllocationID = a.ID.String()
		r.SystemTID = a.SystemTID
		r.Size = uint64(a.Size)
		r.Address = uint64(a.Address)
		r.UnwindUserTag = a.UnwindUserTag
	}
	return r
}

// FileSink writes one newline-delimited JSON record per event to an
// output file, guarded by an OS-level exclusive lock so two interceptor
// instances (or an accidental double-attach) never interleave writes into
// the same file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
	enc  *json.Encoder
}

// NewFileSink opens (creating if necessary) path for append, acquires an
// exclusive flock on it, and returns a ready-to-use FileSink.
func NewFileSink(path string) (*FileSink, error) {
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sink: locking %q: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("sink: %q is already locked by another process", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("sink: opening %q: %w", path, err)
	}

	return &FileSink{file: f, lock: fl, enc: json.NewEncoder(f)}, nil
}

// Send implements event.Sink. It never returns an error to the caller
// (the Sink interface is fire-and-forget); encoding or I/O failures are
// logged instead.
func (s *FileSink) Send(e event.InternalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(toRecord(e)); err != nil {
		log.WithError(err).Warn("failed to write event record")
	}
}

// Close flushes nothing beyond the OS's own buffering, closes the
// underlying file, and releases the flock.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	closeErr := s.file.Close()
	unlockErr := s.lock.Unlock()
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}
