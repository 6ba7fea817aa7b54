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

// Package cli is the command line interface for runmk.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"mikros.dev/mikros/pkg/log"
	"mikros.dev/mikros/runmk/cmd"
)

var (
	debug   = flag.Bool("debug", false, "enable debug logging")
	logJSON = flag.Bool("log-json", false, "emit logs in JSON format")
)

// Main is the entrypoint for runmk.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.Console), "")
	subcommands.Register(new(cmd.Version), "")

	flag.Parse()

	if *logJSON {
		log.SetTarget(log.JSONEmitter{Writer: &log.Writer{Next: os.Stderr}})
	}
	if *debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
