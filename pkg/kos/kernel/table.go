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

package kernel

import (
	"sync"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/mm"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// Table is the simulated process/thread table of spec.md §3/§4.7: the
// full set of live PCBs, parent/child links, and the capability
// manager every spawned PCB is registered with.
type Table struct {
	caps *capability.Manager

	mu      sync.Mutex
	nextPID PID
	procs   map[PID]*PCB
}

// New constructs an empty process table bound to caps, the single
// Permission Manager instance the whole simulation shares.
func New(caps *capability.Manager) *Table {
	return &Table{caps: caps, nextPID: 1, procs: make(map[PID]*PCB)}
}

// SpawnInit creates the first process (pid 1, parentless) with a fresh
// address space over pages and the given root capability set.
func (t *Table) SpawnInit(pages *pgalloc.Allocator, root *vfs.Dentry, caps capability.Set) *PCB {
	t.mu.Lock()
	pid := t.nextPID
	t.nextPID++
	pcb := newPCB(pid, 0, 0, 0)
	pcb.AddrSpace = mm.New(pages)
	pcb.Cwd = root
	t.procs[pid] = pcb
	t.mu.Unlock()

	t.caps.Register(ToCapabilityPID(pid), caps)
	return pcb
}

// Spawn implements spec.md §3's "PCBs created by a spawn primitive":
// parent's address space is COW-forked, its fd table inherited (SPEC_FULL
// §4's fork semantics), and the child registered as parent's.
func (t *Table) Spawn(parentPID PID) (*PCB, error) {
	t.mu.Lock()
	parent, ok := t.procs[parentPID]
	if !ok {
		t.mu.Unlock()
		return nil, kerr.New(kerr.NotFound, "kernel.Spawn", "no such parent pid")
	}
	pid := t.nextPID
	t.nextPID++
	t.mu.Unlock()

	child := newPCB(pid, parentPID, parent.UID, parent.GID)
	child.Groups = append([]uint32(nil), parent.Groups...)
	child.AddrSpace = parent.AddrSpace.ForkClone()
	child.FDs = parent.FDs.Fork()
	child.Cwd = parent.Cwd
	child.class = parent.Class()
	child.nice = parent.Nice()
	child.affinity = parent.Affinity()

	t.mu.Lock()
	t.procs[pid] = child
	t.mu.Unlock()

	parent.addChild(pid)

	parentCaps := t.caps.PermanentSet(ToCapabilityPID(parentPID))
	t.caps.Register(ToCapabilityPID(pid), parentCaps)

	return child, nil
}

// Get returns the PCB for pid.
func (t *Table) Get(pid PID) (*PCB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "kernel.Get", "no such pid")
	}
	return pcb, nil
}

// Exit transitions pid RUNNING -> ZOMBIE with the given exit status, per
// spec.md §4.7's transition table; the PCB stays in the table until
// reaped by its parent, and SIGCHLD is raised on the parent.
func (t *Table) Exit(pid PID, status int) error {
	pcb, err := t.Get(pid)
	if err != nil {
		return err
	}
	pcb.mu.Lock()
	pcb.state = Zombie
	pcb.exitStatus = status
	pcb.mu.Unlock()

	if parent, err := t.Get(pcb.PPID); err == nil {
		t.Kill(parent.PID, SIGCHLD)
	}
	return nil
}

// Reap implements spec.md §3's "destroyed when reaped": removes a ZOMBIE
// child of parentPID from the table and returns its pid and exit status.
// WaitPID is the blocking-capable caller-facing wrapper; Reap itself is
// the non-blocking primitive it polls.
func (t *Table) Reap(parentPID, childPID PID) (PID, int, error) {
	t.mu.Lock()
	child, ok := t.procs[childPID]
	t.mu.Unlock()
	if !ok || child.PPID != parentPID {
		return 0, 0, kerr.New(kerr.NotFound, "kernel.Reap", "no such child")
	}
	if child.State() != Zombie {
		return 0, 0, kerr.New(kerr.WouldBlock, "kernel.Reap", "child has not exited")
	}

	child.setState(Dead)
	status := child.ExitStatus()

	t.mu.Lock()
	delete(t.procs, childPID)
	t.mu.Unlock()

	if parent, err := t.Get(parentPID); err == nil {
		parent.removeChild(childPID)
	}
	t.caps.Unregister(ToCapabilityPID(childPID))
	return childPID, status, nil
}

// WaitPID implements spec.md's supplemented "waitpid with WNOHANG"
// (SPEC_FULL §4): if childPID is 0, any zombie child of parentPID is
// reaped; WNOHANG returns WouldBlock immediately instead of blocking when
// no zombie is ready (the caller is expected to suspend itself via the
// scheduler on that result, per spec.md §5's suspension-point model).
func (t *Table) WaitPID(parentPID, childPID PID, nohang bool) (PID, int, error) {
	parent, err := t.Get(parentPID)
	if err != nil {
		return 0, 0, err
	}

	if childPID != 0 {
		pid, status, err := t.Reap(parentPID, childPID)
		if err != nil && kerr.Is(err, kerr.WouldBlock) && nohang {
			return 0, 0, err
		}
		return pid, status, err
	}

	for _, pid := range parent.Children() {
		if child, err := t.Get(pid); err == nil && child.State() == Zombie {
			return t.Reap(parentPID, pid)
		}
	}
	if nohang {
		return 0, 0, kerr.New(kerr.WouldBlock, "kernel.WaitPID", "no zombie child")
	}
	return 0, 0, kerr.New(kerr.WouldBlock, "kernel.WaitPID", "no zombie child ready; caller should block")
}

// Live reports whether pid is still present in the table (not yet
// reaped), regardless of state.
func (t *Table) Live(pid PID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

// Len reports the number of live PCBs (including zombies awaiting reap).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Pids returns a snapshot of every live pid, for procfs's root directory
// listing.
func (t *Table) Pids() []PID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PID, 0, len(t.procs))
	for pid := range t.procs {
		out = append(out, pid)
	}
	return out
}
