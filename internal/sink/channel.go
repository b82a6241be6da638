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
	"memsentry.dev/memsentry/internal/event"
)

// ChannelSink buffers events into a channel so the core's Send never
// blocks on the downstream writer (a FileSink's flock-guarded write, or a
// NetSink's network round trip). The sink must apply its own backpressure
// or drop policy rather than stall the thread that called Send — here
// that policy is "drop" once the buffer fills. Dropped events are not
// counted; a warning is logged for the first drop only.
type ChannelSink struct {
	ch      chan event.InternalEvent
	dropped chan struct{}
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{
		ch:      make(chan event.InternalEvent, capacity),
		dropped: make(chan struct{}, 1),
	}
}

// Send implements event.Sink.
func (c *ChannelSink) Send(e event.InternalEvent) {
	select {
	case c.ch <- e:
	default:
		select {
		case c.dropped <- struct{}{}:
			log.Warn("event channel full; dropping event")
		default:
		}
	}
}

// Events returns the channel a drain loop should range over.
func (c *ChannelSink) Events() <-chan event.InternalEvent { return c.ch }

// Close closes the underlying channel, signaling any drain loop to stop
// once it has consumed everything already buffered.
func (c *ChannelSink) Close() { close(c.ch) }
