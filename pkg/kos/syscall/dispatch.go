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

// Package syscall implements the System Call Dispatch facade of
// spec.md §4.9: one operation per logical syscall, each validating
// argument shapes, consulting the Permission Manager, routing to the
// owning component, and translating component failures to the uniform
// kerr.Kind taxonomy, with per-call observability counters
// (SPEC_FULL §3.5) and bounded concurrent blocking calls.
package syscall

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/kos-project/kos/pkg/kos/sched"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// requiredFlag is the fixed, disjoint syscall -> capability-flag
// mapping this implementation commits to: spec.md §9 notes the flag
// *semantics* overlap (KSYSTEM vs KCFG, KSRV vs KPROC) and leaves the
// exact partitioning to the implementation. A syscall absent from this
// map (e.g. getpid) requires no capability at all.
var requiredFlag = map[string]capability.Flag{
	"open":    capability.FILE_R,
	"close":   capability.FILE_R,
	"read":    capability.FILE_R,
	"write":   capability.FILE_W,
	"lseek":   capability.FILE_R,
	"stat":    capability.FILE_R,
	"mkdir":   capability.FILE_W,
	"unlink":  capability.FILE_W,
	"rmdir":   capability.FILE_W,
	"rename":  capability.FILE_W,
	"chmod":   capability.FILE_W,
	"chown":   capability.FILE_W,
	"symlink": capability.FILE_W,
	"link":    capability.FILE_W,
	"readdir": capability.FILE_R,

	"mmap":     capability.MEM,
	"munmap":   capability.MEM,
	"mprotect": capability.MEM,

	"spawn":   capability.PROC,
	"exit":    capability.PROC,
	"waitpid": capability.PROC,
	"kill":    capability.PROC,

	"sigaction": capability.PROC,
	"pipe":      capability.PROC,
	"dup":       capability.FILE_R,

	"sched_setparam": capability.SYSTEM,
}

// MaxConcurrentBlocking bounds how many blocking syscalls (read/write
// on a pipe, waitpid) may be in flight at once across the Dispatcher,
// per SPEC_FULL §3.5.
const MaxConcurrentBlocking = 256

// Metrics is the Dispatcher's observability surface: "dispatch
// maintains per-call counters for observability" (spec.md §4.9), made
// concrete per SPEC_FULL §3.5 as two CounterVecs registered once per
// Dispatcher rather than against the global default registry, so
// multiple simulated cores in one test binary don't collide.
type Metrics struct {
	Calls  *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// NewMetrics constructs and registers a fresh Metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kos_syscalls_total",
			Help: "Total syscalls dispatched, by syscall name and result.",
		}, []string{"syscall", "result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kos_syscall_errors_total",
			Help: "Total syscall failures, by error kind.",
		}, []string{"error_kind"}),
	}
	reg.MustRegister(m.Calls, m.Errors)
	return m
}

// Dispatcher is the single façade of spec.md §4.9, routing validated,
// permission-checked calls to the owning component.
type Dispatcher struct {
	Procs *kernel.Table
	Caps  *capability.Manager
	VFS   *vfs.VirtualFilesystem
	Sched *sched.Scheduler
	Pages *pgalloc.Allocator

	metrics *Metrics
	sem     *semaphore.Weighted
}

// New constructs a Dispatcher over the given components, registering
// its observability counters against reg.
func New(procs *kernel.Table, caps *capability.Manager, vfs *vfs.VirtualFilesystem, sch *sched.Scheduler, pages *pgalloc.Allocator, reg prometheus.Registerer) *Dispatcher {
	return &Dispatcher{
		Procs:   procs,
		Caps:    caps,
		VFS:     vfs,
		Sched:   sch,
		Pages:   pages,
		metrics: NewMetrics(reg),
		sem:     semaphore.NewWeighted(MaxConcurrentBlocking),
	}
}

// call is every syscall method's common envelope: permission check,
// optional blocking-call concurrency bound, the component operation
// itself, and observability. blocking callers (read/write/waitpid on
// an empty source) acquire the bounded semaphore for the duration of
// fn so a storm of suspended tasks can't spawn unbounded goroutines
// against the host, per SPEC_FULL §3.5.
func (d *Dispatcher) call(ctx context.Context, pid kernel.PID, name string, blocking bool, fn func() error) error {
	if flag, ok := requiredFlag[name]; ok {
		if !d.Caps.Check(capability.PID(pid), flag) {
			err := kerr.New(kerr.PermissionDenied, "syscall."+name, "missing required capability "+flag.String())
			d.record(name, err)
			return err
		}
	}

	if blocking {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			err := kerr.Wrap(kerr.Interrupted, "syscall."+name, err)
			d.record(name, err)
			return err
		}
		defer d.sem.Release(1)
	}

	err := fn()
	d.record(name, err)
	return err
}

func (d *Dispatcher) record(name string, err error) {
	if err == nil {
		d.metrics.Calls.WithLabelValues(name, "ok").Inc()
		return
	}
	d.metrics.Calls.WithLabelValues(name, "error").Inc()
	d.metrics.Errors.WithLabelValues(kerr.KindOf(err).String()).Inc()
}

// pcb resolves pid or returns a uniform NotFound failure, sparing every
// syscall method from repeating the same lookup-or-fail boilerplate.
func (d *Dispatcher) pcb(pid kernel.PID) (*kernel.PCB, error) {
	return d.Procs.Get(pid)
}

// procContext builds the vfs.ProcContext a path-resolving syscall
// needs from pid's current PCB state.
func (d *Dispatcher) procContext(p *kernel.PCB) vfs.ProcContext {
	return vfs.ProcContext{
		UID:    p.UID,
		GID:    p.GID,
		IsRoot: d.Caps.Check(capability.PID(p.PID), capability.ROOT),
		Cwd:    p.Cwd,
	}
}
