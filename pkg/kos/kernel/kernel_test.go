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

package kernel_test

import (
	"testing"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/kclock"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/kos-project/kos/pkg/kos/vfs"
	"github.com/kos-project/kos/pkg/kos/vfs/ramfs"
)

func newTable(t *testing.T) (*kernel.Table, *pgalloc.Allocator, *vfs.Dentry) {
	t.Helper()
	caps := capability.NewManager(kclock.Real{}, capability.NewAudit(16, ""), nil)
	pages := pgalloc.New(64)
	v := vfs.New()
	root := v.MountRoot(ramfs.New(0), vfs.MountFlags{})
	return kernel.New(caps), pages, root
}

func TestSpawnChildInheritsAndIsolatesAddressSpace(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))

	child, err := tbl.Spawn(init.PID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if child.PPID != init.PID {
		t.Fatalf("child PPID = %d, want %d", child.PPID, init.PID)
	}
	if got := init.Children(); len(got) != 1 || got[0] != child.PID {
		t.Fatalf("init.Children() = %v, want [%d]", got, child.PID)
	}
	if child.State() != kernel.Runnable {
		t.Fatalf("child state = %v, want Runnable", child.State())
	}
}

func TestExitReapRemovesZombie(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)

	if err := tbl.Exit(child.PID, 7); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if child.State() != kernel.Zombie {
		t.Fatalf("state after exit = %v, want Zombie", child.State())
	}

	pid, status, err := tbl.WaitPID(init.PID, child.PID, false)
	if err != nil || pid != child.PID || status != 7 {
		t.Fatalf("WaitPID: pid=%d status=%d err=%v", pid, status, err)
	}
	if tbl.Live(child.PID) {
		t.Fatal("child should be gone from the table after reap")
	}
	if got := init.Children(); len(got) != 0 {
		t.Fatalf("init.Children() after reap = %v, want empty", got)
	}
}

func TestWaitPIDNoHangReturnsWouldBlock(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)
	_ = child

	if _, _, err := tbl.WaitPID(init.PID, 0, true); !kerr.Is(err, kerr.WouldBlock) {
		t.Fatalf("WaitPID WNOHANG with no zombie: err=%v, want WouldBlock", err)
	}
}

func TestKillSIGKILLTerminates(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)

	if err := tbl.Kill(child.PID, kernel.SIGKILL); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if child.State() != kernel.Zombie {
		t.Fatalf("state after SIGKILL = %v, want Zombie", child.State())
	}
	if child.ExitStatus() != 128+int(kernel.SIGKILL) {
		t.Fatalf("exit status = %d, want %d", child.ExitStatus(), 128+int(kernel.SIGKILL))
	}
}

func TestSIGSTOPSIGCONTTransitions(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)

	if err := tbl.Kill(child.PID, kernel.SIGSTOP); err != nil {
		t.Fatalf("Kill SIGSTOP: %v", err)
	}
	if child.State() != kernel.Stopped {
		t.Fatalf("state after SIGSTOP = %v, want Stopped", child.State())
	}
	if err := tbl.Kill(child.PID, kernel.SIGCONT); err != nil {
		t.Fatalf("Kill SIGCONT: %v", err)
	}
	if child.State() != kernel.Runnable {
		t.Fatalf("state after SIGCONT = %v, want Runnable", child.State())
	}
}

func TestBlockedSignalQueuesAsPending(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)

	child.SetSignalMask(kernel.SignalSet(0).Add(kernel.SIGUSR1))
	if err := tbl.Kill(child.PID, kernel.SIGUSR1); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if child.State() != kernel.Runnable {
		t.Fatalf("blocked signal should not change state, got %v", child.State())
	}
	if !child.PendingSignals().Has(kernel.SIGUSR1) {
		t.Fatal("SIGUSR1 should be recorded as pending while blocked")
	}

	child.SetSignalMask(0)
	sig, ok, err := tbl.ConsumeSignal(child.PID)
	if err != nil || !ok || sig != kernel.SIGUSR1 {
		t.Fatalf("ConsumeSignal: sig=%v ok=%v err=%v", sig, ok, err)
	}
}

func TestHandlerDispositionQueuesRatherThanDefaultAction(t *testing.T) {
	tbl, pages, root := newTable(t)
	init := tbl.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	child, _ := tbl.Spawn(init.PID)

	child.SetHandler(kernel.SIGTERM, kernel.DispositionHandler)
	if err := tbl.Kill(child.PID, kernel.SIGTERM); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if child.State() == kernel.Zombie {
		t.Fatal("SIGTERM with a registered handler should not default-terminate")
	}
	if !child.PendingSignals().Has(kernel.SIGTERM) {
		t.Fatal("SIGTERM should be queued for the handler to observe at the next syscall boundary")
	}
}
