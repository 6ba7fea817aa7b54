// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"mikros.dev/mikros/pkg/kernel"
	"mikros.dev/mikros/runmk/boot"
	"mikros.dev/mikros/runmk/config"
)

// Run implements subcommands.Command for the "run" command: boot the
// machine from a manifest and drive it for a bounded number of ticks.
type Run struct {
	// configPath is the boot manifest.
	configPath string

	// ticks bounds the run; zero runs until shutdown or until every task
	// is gone.
	ticks uint

	// screen dumps the VGA text screen after the run.
	screen bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel and run it for a bounded number of ticks"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return "run [-config manifest.toml] [-ticks N] [-screen]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "config", "", "boot manifest path (TOML)")
	f.UintVar(&r.ticks, "ticks", 1000, "ticks to run; 0 runs until shutdown")
	f.BoolVar(&r.screen, "screen", false, "dump the VGA text screen when the run stops")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := config.Load(r.configPath)
	if err != nil {
		return Errorf("loading config: %v", err)
	}

	var status subcommands.ExitStatus
	func() {
		defer func() {
			if p := recover(); p != nil {
				if pe, ok := p.(*kernel.PanicError); ok {
					status = Errorf("%v", pe)
					return
				}
				panic(p)
			}
		}()

		machine, err := boot.New(c, os.Stdout)
		if err != nil {
			status = Errorf("boot: %v", err)
			return
		}
		k := machine.Kernel
		k.Run(uint32(r.ticks))

		fmt.Fprintf(os.Stderr, "runmk: stopped at tick %d with %d live tasks\n", k.Ticks(), k.LiveTasks())
		if r.screen {
			for _, line := range k.Console().Screen() {
				fmt.Fprintln(os.Stdout, line)
			}
		}
	}()
	return status
}
