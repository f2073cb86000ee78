// Copyright 2026 The KOS Authors.
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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/kos-project/kos/pkg/kos/core"
)

// runCommand implements subcommands.Command for "run".
type runCommand struct {
	configPath string
}

func (*runCommand) Name() string     { return "run" }
func (*runCommand) Synopsis() string { return "boot a simulated kernel and run it until interrupted" }
func (*runCommand) Usage() string {
	return `run -config <path> - boot a simulated kernel from a TOML config document
`
}

func (c *runCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to the TOML config document")
}

func (c *runCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.configPath == "" {
		fmt.Fprintln(os.Stderr, "run: -config is required")
		return subcommands.ExitUsageError
	}

	kern, err := core.NewFromFile(c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return subcommands.ExitFailure
	}

	kern.Log.WithField("num_cpus", kern.Config.NumCPUs).
		WithField("memory_bytes", kern.Config.MemoryBytes).
		WithField("init_pid", kern.Init.PID).
		Info("kos core starting")

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kern.Run(runCtx); err != nil && runCtx.Err() == nil {
		kern.Log.WithError(err).Error("kos core exited with error")
		return subcommands.ExitFailure
	}
	kern.Log.Info("kos core shut down")
	return subcommands.ExitSuccess
}
