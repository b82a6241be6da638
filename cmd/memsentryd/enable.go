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

// enableCmd implements subcommands.Command for the "enable" command.
type enableCmd struct {
	configPath string
}

func (*enableCmd) Name() string     { return "enable" }
func (*enableCmd) Synopsis() string { return "build a Machine and set Desired=Enabled" }
func (*enableCmd) Usage() string    { return "enable [-config path]\n" }

func (c *enableCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "memsentry.toml", "path to the TOML config file")
}

func (c *enableCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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

	changed := bm.machine.Enable()
	log.WithField("changed", changed).WithField("desired", bm.machine.Desired()).Info("enable requested")
	return subcommands.ExitSuccess
}
