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

package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/config"
	"github.com/kos-project/kos/pkg/kos/core"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/klog"
)

const testConfig = `
memory_bytes = "16MiB"
page_size = 4096
num_cpus = 2
root_fs_type = "ramfs"
log_level = "error"
channel_heartbeat_interval = 30
channel_session_ttl = 300
`

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	cfg, err := config.LoadBytes([]byte(testConfig))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	log := klog.New(klog.Options{Level: klog.ParseLevel(cfg.LogLevel)})
	c, err := core.New(cfg, log)
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	return c
}

func TestNewWiresInit(t *testing.T) {
	c := newTestCore(t)
	if c.Init == nil {
		t.Fatal("Init PCB not spawned")
	}
	if !c.Caps.Check(kernel.ToCapabilityPID(c.Init.PID), capability.ROOT) {
		t.Fatal("init PCB does not hold ROOT")
	}
	if c.Sched.NumCPUs() != 2 {
		t.Fatalf("NumCPUs = %d, want 2", c.Sched.NumCPUs())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
