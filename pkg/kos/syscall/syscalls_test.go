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

package syscall_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/fdtable"
	"github.com/kos-project/kos/pkg/kos/kclock"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/mm"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/kos-project/kos/pkg/kos/sched"
	kossyscall "github.com/kos-project/kos/pkg/kos/syscall"
	"github.com/kos-project/kos/pkg/kos/vfs"
	"github.com/kos-project/kos/pkg/kos/vfs/ramfs"
)

// harness wires a minimal but real Dispatcher: every component backing
// it is the module's actual implementation, not a mock, so these tests
// exercise the same code paths production wiring would.
type harness struct {
	d     *kossyscall.Dispatcher
	procs *kernel.Table
	caps  *capability.Manager
	init  *kernel.PCB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := kclock.Real{}
	caps := capability.NewManager(clock, capability.NewAudit(64, ""), map[string]capability.Set{
		"root": capability.NewSet(capability.ROOT),
	})
	procs := kernel.New(caps)
	pages := pgalloc.New(4096)

	v := vfs.New()
	v.MountRoot(ramfs.New(0), vfs.MountFlags{})

	init := procs.SpawnInit(pages, v.RootDentry(), capability.NewSet(capability.ROOT))

	schd := sched.New(1,
		func(pid kernel.PID) int { p, _ := procs.Get(pid); return p.Nice() },
		func(pid kernel.PID) kernel.Affinity { p, _ := procs.Get(pid); return p.Affinity() },
		func(pid kernel.PID) kernel.Class { p, _ := procs.Get(pid); return p.Class() },
		func(pid kernel.PID) int { p, _ := procs.Get(pid); return p.RTPriority() },
	)

	d := kossyscall.New(procs, caps, v, schd, pages, prometheus.NewRegistry())
	return &harness{d: d, procs: procs, caps: caps, init: init}
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fd, err := h.d.Open(ctx, h.init.PID, "/greeting", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.d.Write(ctx, h.init.PID, fd, []byte("hello kos")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := h.d.Lseek(ctx, h.init.PID, fd, 0, fdtable.SeekSet); err != nil {
		t.Fatalf("Lseek: %v", err)
	}
	buf := make([]byte, 9)
	n, err := h.d.Read(ctx, h.init.PID, fd, buf)
	if err != nil || string(buf[:n]) != "hello kos" {
		t.Fatalf("Read: got %q err=%v", buf[:n], err)
	}
	if err := h.d.Close(ctx, h.init.PID, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenRejectsMissingCapability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	child, err := h.procs.Spawn(h.init.PID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	h.caps.Register(kernel.ToCapabilityPID(child.PID), capability.Set(0))

	if _, err := h.d.Open(ctx, child.PID, "/x", fdtable.O_RDWR|fdtable.O_CREAT, 0o644); !kerr.Is(err, kerr.PermissionDenied) {
		t.Fatalf("Open without FILE_R: err=%v, want PermissionDenied", err)
	}
}

func TestPipeWriteThenReadThenEOF(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	readFD, writeFD, err := h.d.Pipe(ctx, h.init.PID)
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	if _, err := h.d.Write(ctx, h.init.PID, writeFD, []byte("payload")); err != nil {
		t.Fatalf("Write to pipe: %v", err)
	}
	if err := h.d.Close(ctx, h.init.PID, writeFD); err != nil {
		t.Fatalf("Close write end: %v", err)
	}

	buf := make([]byte, 64)
	n, err := h.d.Read(ctx, h.init.PID, readFD, buf)
	if err != nil || string(buf[:n]) != "payload" {
		t.Fatalf("Read from pipe: got %q err=%v", buf[:n], err)
	}
	n, err = h.d.Read(ctx, h.init.PID, readFD, buf)
	if err != nil || n != 0 {
		t.Fatalf("Read after writer closed: got n=%d err=%v, want EOF (0, nil)", n, err)
	}
}

func TestSpawnExitWaitpid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	childPID, err := h.d.Spawn(ctx, h.init.PID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := h.d.Exit(ctx, childPID, 7); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	reaped, status, err := h.d.Waitpid(ctx, h.init.PID, childPID, false)
	if err != nil {
		t.Fatalf("Waitpid: %v", err)
	}
	if reaped != childPID || status != 7 {
		t.Fatalf("Waitpid = (%d, %d); want (%d, 7)", reaped, status, childPID)
	}
}

func TestMmapMunmap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	addr, err := h.d.Mmap(ctx, h.init.PID, 0, 8192, mm.ProtRead|mm.ProtWrite, mm.MmapFlags{}, mm.Anonymous, mm.Private, nil, 0)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if err := h.d.Mprotect(ctx, h.init.PID, addr, 8192, mm.ProtRead); err != nil {
		t.Fatalf("Mprotect: %v", err)
	}
	if err := h.d.Munmap(ctx, h.init.PID, addr, 8192); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
}

func TestGetpidAndSchedSetparam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	self, err := h.d.Getpid(ctx, h.init.PID)
	if err != nil || self != h.init.PID {
		t.Fatalf("Getpid: got %d err=%v, want %d", self, err, h.init.PID)
	}
	if err := h.d.SchedSetparam(ctx, h.init.PID, kernel.ClassBatch, 5, 0); err != nil {
		t.Fatalf("SchedSetparam: %v", err)
	}
	if h.init.Class() != kernel.ClassBatch || h.init.Nice() != 5 {
		t.Fatalf("PCB after SchedSetparam: class=%v nice=%d", h.init.Class(), h.init.Nice())
	}
}
