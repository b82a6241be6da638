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
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/net/nettest"

	"memsentry.dev/memsentry/internal/event"
)

func TestFileSinkWritesNewlineDelimitedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	s.Send(event.NewAllocEvent(event.Allocation{
		ID:        event.AllocationID{InternalTID: 1, Counter: 1},
		SystemTID: 42,
		Size:      128,
		Address:   0xdeadbeef,
	}))
	s.Send(event.ExitEvent)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopening output: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var records []record
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal line %q: %v", sc.Text(), err)
		}
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Kind != "alloc" || records[0].SystemTID != 42 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].Kind != "exit" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestFileSinkRejectsSecondLocker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	first, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer first.Close()

	if _, err := NewFileSink(path); err == nil {
		t.Fatal("expected second NewFileSink on the same path to fail")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	c := NewChannelSink(1)
	c.Send(event.ExitEvent)
	c.Send(event.ExitEvent) // dropped, must not block or panic

	select {
	case <-c.Events():
	default:
		t.Fatal("expected one buffered event")
	}
}

// TestNetSinkOverPipe exercises NetSink end-to-end over a net.Pipe-backed
// connection, validated first with nettest.TestConn the way
// pkg/tcpip/adapters/gonet/gonet_test.go validates its own net.Conn
// implementation before trusting higher-level code built on top of it.
func TestNetSinkOverPipe(t *testing.T) {
	nettest.TestConn(t, func() (c1, c2 net.Conn, stop func(), err error) {
		c1, c2 = net.Pipe()
		return c1, c2, func() { c1.Close(); c2.Close() }, nil
	})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewNetSink(client)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(event.NewAllocEvent(event.Allocation{
			ID:        event.AllocationID{InternalTID: 7, Counter: 1},
			SystemTID: 9,
			Size:      64,
		}))
	}()

	sc := bufio.NewScanner(server)
	if !sc.Scan() {
		t.Fatalf("no data received from NetSink: %v", sc.Err())
	}
	var r record
	if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Kind != "alloc" || r.SystemTID != 9 {
		t.Errorf("unexpected record: %+v", r)
	}
	<-done
}
