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

package main

import (
	"path/filepath"
	"testing"

	"memsentry.dev/memsentry/internal/config"
	"memsentry.dev/memsentry/internal/core"
)

func TestBuildMachineFileSinkEnableAndExit(t *testing.T) {
	cfg := config.Default()
	cfg.OutputPath = filepath.Join(t.TempDir(), "out.events")

	bm, err := buildMachine(cfg)
	if err != nil {
		t.Fatalf("buildMachine: %v", err)
	}
	defer bm.closer()

	if bm.machine.State() != core.StateUninitialized {
		t.Fatalf("State() = %v, want Uninitialized before any activity", bm.machine.State())
	}

	if !bm.machine.Enable() {
		t.Fatal("Enable() returned false on first call")
	}

	h, ok := bm.machine.Acquire(424242)
	if !ok {
		t.Fatal("Acquire failed to lazily enable the machine")
	}
	h.Drop()

	bm.machine.OnExit()

	if bm.machine.State() != core.StateDisabled {
		t.Fatalf("State() after OnExit = %v, want Disabled", bm.machine.State())
	}
}

func TestBuildMachineRejectsUnknownSink(t *testing.T) {
	cfg := config.Default()
	cfg.Sink = "bogus"

	if _, err := buildMachine(cfg); err == nil {
		t.Fatal("expected an error for an unknown sink kind")
	}
}
