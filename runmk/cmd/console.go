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

	"github.com/containerd/console"
	"github.com/google/subcommands"

	"mikros.dev/mikros/pkg/kernel"
	"mikros.dev/mikros/runmk/boot"
	"mikros.dev/mikros/runmk/config"
)

// Console implements subcommands.Command for the "console" command: boot
// the machine and attach the host terminal as the keyboard, raw mode, until
// ctrl-c.
type Console struct {
	configPath string
}

// Name implements subcommands.Command.Name.
func (*Console) Name() string {
	return "console"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Console) Synopsis() string {
	return "boot the kernel with the host terminal attached as keyboard"
}

// Usage implements subcommands.Command.Usage.
func (*Console) Usage() string {
	return "console [-config manifest.toml]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Console) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "boot manifest path (TOML)")
}

// Execute implements subcommands.Command.Execute.
func (c *Console) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return Errorf("loading config: %v", err)
	}

	host := console.Current()
	if err := host.SetRaw(); err != nil {
		return Errorf("raw mode: %v", err)
	}
	defer host.Reset()

	// A reader goroutine feeds keystrokes through a channel; scancodes
	// are injected only between run slices, on the machine's own thread.
	keys := make(chan byte, 64)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := host.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n == 1 {
				keys <- buf[0]
			}
		}
	}()

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

		machine, err := boot.New(cfg, os.Stdout)
		if err != nil {
			status = Errorf("boot: %v", err)
			return
		}
		k := machine.Kernel

		for k.LiveTasks() > 0 {
			k.Run(10)
		drain:
			for {
				select {
				case ch, ok := <-keys:
					if !ok || ch == 0x03 { // ctrl-c
						fmt.Fprintln(os.Stderr, "\r\nrunmk: console detached")
						return
					}
					if sc, ok := boot.ASCIIToScancode(ch); ok {
						machine.Keyboard.Push(sc)
					}
				default:
					break drain
				}
			}
		}
	}()
	return status
}
