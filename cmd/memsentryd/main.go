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

// Command memsentryd is a self-contained host for the memory-profiling
// interceptor's core state machine: it loads a TOML config, wires a
// durable event sink and the default processing-thread body, and
// exercises the resulting core.Machine through a handful of
// subcommands. It deliberately talks to exactly one in-process Machine
// per invocation — there is no IPC and no cross-process coordination,
// so there is no separate control client driving an already-running
// target process.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&toggleCmd{}, "")
	subcommands.Register(&enableCmd{}, "")
	subcommands.Register(&disableCmd{}, "")
	subcommands.Register(&syncCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
