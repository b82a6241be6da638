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

// Package config loads the on-disk settings that parameterize a
// memsentryd process: where recorded events go, how often the
// processing thread polls, and what state tracing should start in.
// Everything the core state machine itself decides (transitions,
// throttling, the allocation lock) stays in internal/core; this
// package only resolves the handful of knobs an operator sets once per
// deployment, the way runsc/config/flags.go resolves Config from
// flags before handing it to the container runtime.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"memsentry.dev/memsentry/internal/procbody"
)

// SinkKind selects which event.Sink implementation Config.Sink names.
type SinkKind string

const (
	// SinkFile appends newline-delimited JSON events to a local file
	// (internal/sink.FileSink).
	SinkFile SinkKind = "file"
	// SinkNet streams newline-delimited JSON events over a TCP
	// connection (internal/sink.NetSink).
	SinkNet SinkKind = "net"
)

// Config is the deserialized form of memsentry.toml.
type Config struct {
	// Sink selects the durable event destination: "file" or "net".
	Sink SinkKind `toml:"sink"`
	// OutputPath is the FileSink destination when Sink is "file".
	OutputPath string `toml:"output_path"`
	// Address is the dial target ("host:port") when Sink is "net".
	Address string `toml:"address"`
	// PollInterval is how often the processing thread runs dead-thread
	// GC and the shutdown poll while idle (procbody.Config.PollInterval).
	PollInterval time.Duration `toml:"poll_interval"`
	// StartEnabled, if true, means the process should request tracing
	// as soon as memsentryd starts, rather than waiting for an explicit
	// "toggle"/"enable" command.
	StartEnabled bool `toml:"start_enabled"`
	// Debug raises the log level to debug (logging.SetLevel).
	Debug bool `toml:"debug"`
}

// Default mirrors the zero-config behavior of a freshly started
// profiler: tracing off, events written next to the working directory,
// GC/shutdown polled at procbody's default cadence.
func Default() Config {
	return Config{
		Sink:         SinkFile,
		OutputPath:   "memsentry.events",
		PollInterval: procbody.DefaultPollInterval,
		StartEnabled: false,
	}
}

// Load reads and validates a TOML config file at path, filling in
// Default() for anything the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Sink {
	case SinkFile:
		if c.OutputPath == "" {
			return fmt.Errorf("sink=file requires output_path")
		}
	case SinkNet:
		if c.Address == "" {
			return fmt.Errorf("sink=net requires address")
		}
	default:
		return fmt.Errorf("unknown sink %q (want \"file\" or \"net\")", c.Sink)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}
