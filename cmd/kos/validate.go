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

	"github.com/google/subcommands"

	"github.com/kos-project/kos/pkg/kos/config"
)

// validateCommand implements subcommands.Command for "validate".
type validateCommand struct {
	configPath string
}

func (*validateCommand) Name() string { return "validate" }
func (*validateCommand) Synopsis() string {
	return "parse and validate a config document without starting"
}
func (*validateCommand) Usage() string {
	return `validate -config <path> - parse and validate a config document
`
}

func (c *validateCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to the TOML config document")
}

func (c *validateCommand) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if c.configPath == "" {
		fmt.Fprintln(os.Stderr, "validate: -config is required")
		return subcommands.ExitUsageError
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("ok: num_cpus=%d memory_bytes=%d page_size=%d root_fs_type=%s\n",
		cfg.NumCPUs, cfg.MemoryBytes, cfg.PageSize, cfg.RootFSType)
	return subcommands.ExitSuccess
}
