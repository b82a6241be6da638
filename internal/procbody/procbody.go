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

// Package procbody provides the default processing-thread body, a
// collaborator external to the core. It drains the interceptor's
// internal event channel into a durable sink and periodically runs
// dead-thread GC and the shutdown poll, all on the one dedicated OS
// thread the core spawns for it (core.Machine.spawnProcessingThread).
package procbody

import (
	"time"

	"memsentry.dev/memsentry/internal/core"
	"memsentry.dev/memsentry/internal/event"
	"memsentry.dev/memsentry/internal/logging"
	"memsentry.dev/memsentry/internal/sink"
)

var log = logging.For("procbody")

// Config controls the default body's polling cadence.
type Config struct {
	// PollInterval is how often the body runs GarbageCollectDeadThreads
	// and checks for a shutdown request while the event channel is idle.
	PollInterval time.Duration
}

// DefaultPollInterval is a third of the grace period dead-thread entries
// sit for (the registry's 3-second eviction window), so a GC sweep sees
// entries cross the threshold within a second without polling far more
// often than that window requires.
const DefaultPollInterval = 1 * time.Second

// New builds the default processing-thread body: it drains input (the
// ChannelSink handed to core.New as the core's event sink) and forwards
// every event to output (a durable sink.FileSink or sink.NetSink),
// interleaved with periodic GC and shutdown polling.
func New(input *sink.ChannelSink, output event.Sink, cfg Config) func(m *core.Machine) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return func(m *core.Machine) {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case e, ok := <-input.Events():
				if !ok {
					return
				}
				output.Send(e)
				if e.Kind == event.KindExit {
					return
				}

			case <-ticker.C:
				m.Registry().GarbageCollectDeadThreads(time.Now())
				if m.PollShutdown() {
					drainRemaining(input, output)
					return
				}
			}
		}
	}
}

// drainRemaining flushes whatever was already buffered in the channel at
// the moment shutdown was observed, so events racing the Exit transition
// aren't silently lost.
func drainRemaining(input *sink.ChannelSink, output event.Sink) {
	for {
		select {
		case e, ok := <-input.Events():
			if !ok {
				return
			}
			output.Send(e)
		default:
			return
		}
	}
}
