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
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"memsentry.dev/memsentry/internal/config"
)

// runCmd implements subcommands.Command for the "run" command: it hosts
// one Machine for the life of the process, the way the interceptor
// hosts one for the life of the preloaded target program.
type runCmd struct {
	configPath string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "host the interceptor's core state machine" }
func (*runCmd) Usage() string {
	return "run [-config path]\n\nRuns until SIGINT/SIGTERM, at which point it performs the on_exit\nhandshake before exiting. SIGUSR1 toggles tracing.\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "memsentry.toml", "path to the TOML config file")
}

func (c *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	log.WithField("state", bm.machine.State()).Info("memsentryd running")
	for sig := range sigs {
		switch sig {
		case syscall.SIGUSR1:
			bm.machine.Toggle()
			log.WithField("desired", bm.machine.Desired()).Info("toggled")
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("shutting down")
			bm.machine.OnExit()
			return subcommands.ExitSuccess
		}
	}
	return subcommands.ExitSuccess
}
