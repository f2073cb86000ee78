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

	"github.com/kos-project/kos/pkg/kos/fdtable"
	"github.com/kos-project/kos/pkg/kos/mm"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// State is one of the PCB states of spec.md §3/§4.7.
type State int

const (
	Runnable State = iota
	Running
	Sleeping
	Stopped
	Zombie
	Dead
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Sleeping:
		return "SLEEPING"
	case Stopped:
		return "STOPPED"
	case Zombie:
		return "ZOMBIE"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Class is a scheduling class of spec.md §4.7, in strict priority order.
type Class int

const (
	ClassRTFIFO Class = iota
	ClassRTRR
	ClassCFS
	ClassBatch
	ClassIdle
)

// Affinity is a CPU affinity bitmask; bit i permits scheduling on CPU i.
type Affinity uint64

// AllCPUs is the affinity mask permitting every simulated CPU.
const AllCPUs Affinity = ^Affinity(0)

// PCB is the Process Control Block of spec.md §3. Fields are split into
// a stable group (pid, parent, identity, and the address space, fd table
// and cwd set at spawn) requiring no lock and a mutable group (state,
// scheduling, signals) behind mu, per spec.md
// §5's "per-process PCB fields split into stable... and mutable... behind
// the PCB lock."
type PCB struct {
	PID    PID
	PPID   PID
	UID    uint32
	GID    uint32
	Groups []uint32

	AddrSpace *mm.AddressSpace
	FDs       *fdtable.Table
	Cwd       *vfs.Dentry

	mu sync.Mutex

	state State
	class Class

	nice       int   // -20..19, CFS
	rtPriority int   // 1..99, RT-FIFO/RT-RR
	vruntime   int64 // nanoseconds
	timeSlice  int64 // nanoseconds remaining, RT-RR

	affinity Affinity

	sigMask  SignalSet
	sigPend  SignalSet
	handlers map[Signal]Disposition

	exitStatus int
	children   map[PID]struct{}
}

// newPCB constructs a PCB in the RUNNABLE state under the CFS class with
// nice 0, the defaults spec.md implies for a freshly spawned process.
func newPCB(pid, ppid PID, uid, gid uint32) *PCB {
	return &PCB{
		PID:      pid,
		PPID:     ppid,
		UID:      uid,
		GID:      gid,
		FDs:      fdtable.New(),
		state:    Runnable,
		class:    ClassCFS,
		affinity: AllCPUs,
		handlers: make(map[Signal]Disposition),
		children: make(map[PID]struct{}),
	}
}

func (p *PCB) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PCB) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *PCB) Class() Class {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.class
}

func (p *PCB) SetClass(c Class) {
	p.mu.Lock()
	p.class = c
	p.mu.Unlock()
}

func (p *PCB) Nice() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nice
}

// SetNice clamps to spec.md §3's -20..19 range.
func (p *PCB) SetNice(n int) {
	if n < -20 {
		n = -20
	}
	if n > 19 {
		n = 19
	}
	p.mu.Lock()
	p.nice = n
	p.mu.Unlock()
}

func (p *PCB) RTPriority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtPriority
}

// SetRTPriority clamps to spec.md §3's 1..99 range.
func (p *PCB) SetRTPriority(pr int) {
	if pr < 1 {
		pr = 1
	}
	if pr > 99 {
		pr = 99
	}
	p.mu.Lock()
	p.rtPriority = pr
	p.mu.Unlock()
}

func (p *PCB) VRuntime() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vruntime
}

func (p *PCB) SetVRuntime(v int64) {
	p.mu.Lock()
	p.vruntime = v
	p.mu.Unlock()
}

func (p *PCB) AddVRuntime(delta int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vruntime += delta
	return p.vruntime
}

func (p *PCB) TimeSlice() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeSlice
}

func (p *PCB) SetTimeSlice(ns int64) {
	p.mu.Lock()
	p.timeSlice = ns
	p.mu.Unlock()
}

func (p *PCB) Affinity() Affinity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.affinity
}

func (p *PCB) SetAffinity(a Affinity) {
	p.mu.Lock()
	p.affinity = a
	p.mu.Unlock()
}

func (p *PCB) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

// Children returns a snapshot of the PCB's child pid set.
func (p *PCB) Children() []PID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PID, 0, len(p.children))
	for pid := range p.children {
		out = append(out, pid)
	}
	return out
}

func (p *PCB) addChild(pid PID) {
	p.mu.Lock()
	p.children[pid] = struct{}{}
	p.mu.Unlock()
}

func (p *PCB) removeChild(pid PID) {
	p.mu.Lock()
	delete(p.children, pid)
	p.mu.Unlock()
}

// SetHandler records sig's disposition, per SPEC_FULL §4's sigaction.
func (p *PCB) SetHandler(sig Signal, d Disposition) {
	p.mu.Lock()
	p.handlers[sig] = d
	p.mu.Unlock()
}

func (p *PCB) handlerFor(sig Signal) Disposition {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.handlers[sig]
	if !ok {
		return DispositionDefault
	}
	return d
}

// SetSignalMask installs the process's blocked-signal mask.
func (p *PCB) SetSignalMask(mask SignalSet) {
	p.mu.Lock()
	p.sigMask = mask
	p.mu.Unlock()
}

func (p *PCB) SignalMask() SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sigMask
}

func (p *PCB) PendingSignals() SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sigPend
}
