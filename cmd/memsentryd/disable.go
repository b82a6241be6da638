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

// disableCmd implements subcommands.Command for the "disable" command.
// It sets Desired=Suspended (core.Machine.Disable), which per DESIGN.md's
// Open Question decision leaves any running worker in place rather than
// tearing it down — only process exit does that.
type disableCmd struct {
	configPath string
}

func (*disableCmd) Name() string     { return "disable" }
func (*disableCmd) Synopsis() string { return "build a Machine and set Desired=Suspended" }
func (*disableCmd) Usage() string    { return "disable [-config path]\n" }

func (c *disableCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "memsentry.toml", "path to the TOML config file")
}

func (c *disableCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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

	changed := bm.machine.Disable()
	log.WithField("changed", changed).WithField("desired", bm.machine.Desired()).Info("disable requested")
	return subcommands.ExitSuccess
}
