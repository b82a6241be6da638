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
	"fmt"
	"net"

	"memsentry.dev/memsentry/internal/config"
	"memsentry.dev/memsentry/internal/core"
	"memsentry.dev/memsentry/internal/dlnext"
	"memsentry.dev/memsentry/internal/event"
	"memsentry.dev/memsentry/internal/jepatch"
	"memsentry.dev/memsentry/internal/logging"
	"memsentry.dev/memsentry/internal/procbody"
	"memsentry.dev/memsentry/internal/sink"
)

var log = logging.For("memsentryd")

// builtMachine bundles a *core.Machine with the closer for whatever
// durable sink backs it, so callers can flush and release the file
// lock or network connection on the way out.
type builtMachine struct {
	machine *core.Machine
	closer  func() error
}

// buildMachine wires one core.Machine exactly the way a preloaded
// process would: a bounded ChannelSink decouples intercepted allocator
// calls from the durable sink (file or net), the default processing
// body drains it, and the post-enable hooks resolve the original
// unwinder symbols and (on Linux/amd64) attempt the jemalloc patch.
// dlsym(RTLD_NEXT, ...) resolution and the ELF patcher both have real,
// wireable targets here; there is no in-repo interception trampoline to
// hand jepatch.Patch real replacement addresses for (symbol interposition
// for the dynamic allocator is explicitly external to the core), so
// patchAllocator calls Patch with no replacements — it still exercises
// auxv/ELF-symbol resolution end-to-end, short of the final
// jump-splice writes.
func buildMachine(cfg config.Config) (*builtMachine, error) {
	logging.SetLevel(cfg.Debug)

	output, closer, err := buildOutputSink(cfg)
	if err != nil {
		return nil, err
	}

	input := sink.NewChannelSink(1024)
	body := procbody.New(input, output, procbody.Config{PollInterval: cfg.PollInterval})

	m := core.New(input, body, nil)
	m.SetPostEnableHooks(resolveOriginalSyms, patchAllocator)
	core.InstallForkHook(m)

	if cfg.StartEnabled {
		m.Enable()
	}

	return &builtMachine{machine: m, closer: closer}, nil
}

func buildOutputSink(cfg config.Config) (event.Sink, func() error, error) {
	switch cfg.Sink {
	case config.SinkFile:
		fs, err := sink.NewFileSink(cfg.OutputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file sink: %w", err)
		}
		return fs, fs.Close, nil
	case config.SinkNet:
		conn, err := net.Dial("tcp", cfg.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("dialing net sink %s: %w", cfg.Address, err)
		}
		ns := sink.NewNetSink(conn)
		return ns, ns.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink)
	}
}

func resolveOriginalSyms() {
	syms, err := dlnext.ResolveFrameSyms()
	dlnext.StoreOriginalFrameSyms(syms)
	if err != nil {
		log.WithError(err).Warn("unwinder frame symbols not fully resolved")
	}
}

func patchAllocator() {
	if err := jepatch.Patch(nil); err != nil {
		log.WithError(err).Fatal("jemalloc patch attempt failed")
	}
}
