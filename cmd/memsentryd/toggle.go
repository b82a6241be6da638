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
	"context"
	"flag"

	"github.com/google/subcommands"

	"memsentry.dev/memsentry/internal/config"
)

// toggleCmd implements subcommands.Command for the "toggle" command: a
// scripted smoke test of the toggle() rotation, run against a freshly
// built Machine rather than an already-running one (no IPC).
type toggleCmd struct {
	configPath string
}

func (*toggleCmd) Name() string     { return "toggle" }
func (*toggleCmd) Synopsis() string { return "build a Machine, toggle it once, print the result" }
func (*toggleCmd) Usage() string    { return "toggle [-config path]\n" }

func (c *toggleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "memsentry.toml", "path to the TOML config file")
}

func (c *toggleCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.WithError(err).Error("loading config")
		return subcommands.ExitFailure
	}

	bm, err := buildMachine(cfg)
	if err != nil {
		log.WithError(err).Error("building machine")
		return subcommands.ExitFailure
	}
	defer bm.closer()

	bm.machine.Toggle()
	bm.machine.Sync()
	log.WithField("desired", bm.machine.Desired()).WithField("state", bm.machine.State()).Info("toggled")
	return subcommands.ExitSuccess
}
