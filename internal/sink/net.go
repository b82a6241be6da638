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

package sink

import (
	"encoding/json"
	"net"
	"sync"

	"memsentry.dev/memsentry/internal/event"
)

// NetSink streams newline-delimited JSON records over an arbitrary
// net.Conn instead of a local file — a remote-collector configuration
// offered as an alternative to the default file output, letting a
// separate process aggregate events from many interceptor instances.
type NetSink struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
}

// NewNetSink wraps an already-established connection. Dialing, retrying,
// and reconnection policy belong to the caller; NetSink only owns framing
// events onto the wire.
func NewNetSink(conn net.Conn) *NetSink {
	return &NetSink{conn: conn, enc: json.NewEncoder(conn)}
}

// Send implements event.Sink, matching FileSink's "never surface an
// error, log instead" contract.
func (s *NetSink) Send(e event.InternalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(toRecord(e)); err != nil {
		log.WithError(err).Warn("failed to write event record to remote sink")
	}
}

// Close closes the underlying connection.
func (s *NetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
