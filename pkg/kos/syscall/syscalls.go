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

package syscall

import (
	"context"

	"github.com/kos-project/kos/pkg/kos/fdtable"
	"github.com/kos-project/kos/pkg/kos/ipc/kpipe"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/mm"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// openFile resolves fd against pid's descriptor table, under the
// uniform pcb-lookup-or-NotFound envelope every method here shares.
func (d *Dispatcher) openFile(pid kernel.PID, fd int) (*fdtable.OpenFile, error) {
	p, err := d.pcb(pid)
	if err != nil {
		return nil, err
	}
	return p.FDs.Get(fd)
}

// Open implements open(path, flags, mode), per spec.md §4.9/§4.4.
func (d *Dispatcher) Open(ctx context.Context, pid kernel.PID, path string, flags fdtable.OpenFlags, mode vfs.Mode) (int, error) {
	var fd int
	err := d.call(ctx, pid, "open", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		fd, err = fdtable.Open(d.VFS, p.FDs, d.procContext(p), uint64(pid), path, flags, mode)
		return err
	})
	return fd, err
}

// Close implements close(fd).
func (d *Dispatcher) Close(ctx context.Context, pid kernel.PID, fd int) error {
	return d.call(ctx, pid, "close", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return p.FDs.Close(fd)
	})
}

// Read implements read(fd, buf), blocking when fd refers to an empty
// pipe with an open writer, per spec.md §4.8.
func (d *Dispatcher) Read(ctx context.Context, pid kernel.PID, fd int, buf []byte) (int, error) {
	var n int
	err := d.call(ctx, pid, "read", true, func() error {
		of, err := d.openFile(pid, fd)
		if err != nil {
			return err
		}
		n, err = of.Read(buf)
		return err
	})
	return n, err
}

// Write implements write(fd, data), blocking when fd refers to a full
// pipe with an open reader.
func (d *Dispatcher) Write(ctx context.Context, pid kernel.PID, fd int, data []byte) (int, error) {
	var n int
	err := d.call(ctx, pid, "write", true, func() error {
		of, err := d.openFile(pid, fd)
		if err != nil {
			return err
		}
		n, err = of.Write(data)
		return err
	})
	return n, err
}

// Lseek implements lseek(fd, offset, whence).
func (d *Dispatcher) Lseek(ctx context.Context, pid kernel.PID, fd int, offset int64, whence fdtable.Whence) (int64, error) {
	var pos int64
	err := d.call(ctx, pid, "lseek", false, func() error {
		of, err := d.openFile(pid, fd)
		if err != nil {
			return err
		}
		pos, err = of.Seek(offset, whence)
		return err
	})
	return pos, err
}

// Stat implements stat(path).
func (d *Dispatcher) Stat(ctx context.Context, pid kernel.PID, path string) (vfs.Attr, error) {
	var attr vfs.Attr
	err := d.call(ctx, pid, "stat", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		dent, err := d.VFS.Resolve(d.procContext(p), path)
		if err != nil {
			return err
		}
		attr, err = d.VFS.Stat(dent)
		return err
	})
	return attr, err
}

// Mkdir implements mkdir(path, mode).
func (d *Dispatcher) Mkdir(ctx context.Context, pid kernel.PID, path string, mode vfs.Mode) error {
	return d.call(ctx, pid, "mkdir", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		_, err = d.VFS.Mkdir(d.procContext(p), path, mode)
		return err
	})
}

// Unlink implements unlink(path).
func (d *Dispatcher) Unlink(ctx context.Context, pid kernel.PID, path string) error {
	return d.call(ctx, pid, "unlink", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return d.VFS.Unlink(d.procContext(p), path)
	})
}

// Rmdir implements rmdir(path).
func (d *Dispatcher) Rmdir(ctx context.Context, pid kernel.PID, path string) error {
	return d.call(ctx, pid, "rmdir", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return d.VFS.Rmdir(d.procContext(p), path)
	})
}

// Rename implements rename(oldPath, newPath).
func (d *Dispatcher) Rename(ctx context.Context, pid kernel.PID, oldPath, newPath string) error {
	return d.call(ctx, pid, "rename", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return d.VFS.Rename(d.procContext(p), oldPath, newPath)
	})
}

// Symlink implements symlink(path, target).
func (d *Dispatcher) Symlink(ctx context.Context, pid kernel.PID, path, target string) error {
	return d.call(ctx, pid, "symlink", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		_, err = d.VFS.Symlink(d.procContext(p), path, target)
		return err
	})
}

// Link implements link(path, targetPath): resolves targetPath first,
// then creates a new name bound to the same vnode at path.
func (d *Dispatcher) Link(ctx context.Context, pid kernel.PID, path, targetPath string) error {
	return d.call(ctx, pid, "link", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		procCtx := d.procContext(p)
		target, err := d.VFS.Resolve(procCtx, targetPath)
		if err != nil {
			return err
		}
		return d.VFS.Link(procCtx, path, target)
	})
}

// Readdir implements readdir(path).
func (d *Dispatcher) Readdir(ctx context.Context, pid kernel.PID, path string) ([]vfs.DirEntry, error) {
	var entries []vfs.DirEntry
	err := d.call(ctx, pid, "readdir", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		dent, err := d.VFS.Resolve(d.procContext(p), path)
		if err != nil {
			return err
		}
		entries, err = d.VFS.Readdir(dent)
		return err
	})
	return entries, err
}

// Chmod implements chmod(path, mode) as a Setattr restricted to the
// mode bits.
func (d *Dispatcher) Chmod(ctx context.Context, pid kernel.PID, path string, mode vfs.Mode) error {
	return d.call(ctx, pid, "chmod", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		dent, err := d.VFS.Resolve(d.procContext(p), path)
		if err != nil {
			return err
		}
		return d.VFS.Setattr(dent, vfs.Attr{Mode: mode}, vfs.AttrMode)
	})
}

// Chown implements chown(path, uid, gid) as a Setattr restricted to
// ownership.
func (d *Dispatcher) Chown(ctx context.Context, pid kernel.PID, path string, uid, gid uint32) error {
	return d.call(ctx, pid, "chown", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		dent, err := d.VFS.Resolve(d.procContext(p), path)
		if err != nil {
			return err
		}
		return d.VFS.Setattr(dent, vfs.Attr{UID: uid, GID: gid}, vfs.AttrUID|vfs.AttrGID)
	})
}

// Mmap implements mmap, per spec.md §4.3.
func (d *Dispatcher) Mmap(ctx context.Context, pid kernel.PID, addrHint, length uint64, prot mm.Prot, flags mm.MmapFlags, kind mm.Kind, sharing mm.Sharing, file mm.Backing, offset int64) (uint64, error) {
	var addr uint64
	err := d.call(ctx, pid, "mmap", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		addr, err = p.AddrSpace.Mmap(addrHint, length, prot, flags, kind, sharing, file, offset)
		return err
	})
	return addr, err
}

// Munmap implements munmap(addr, length).
func (d *Dispatcher) Munmap(ctx context.Context, pid kernel.PID, addr, length uint64) error {
	return d.call(ctx, pid, "munmap", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return p.AddrSpace.Munmap(addr, length)
	})
}

// Mprotect implements mprotect(addr, length, prot).
func (d *Dispatcher) Mprotect(ctx context.Context, pid kernel.PID, addr, length uint64, prot mm.Prot) error {
	return d.call(ctx, pid, "mprotect", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		return p.AddrSpace.Mprotect(addr, length, prot)
	})
}

// enqueueScheduler places pid onto one of the Scheduler's simulated
// CPUs, per spec.md §4.7/§5: every runnable task must sit on exactly
// one CPU's run queue before Pick can ever select it. The dispatcher
// keeps no per-pid CPU assignment of its own, so it picks a CPU
// deterministically from the pid rather than tracking placement.
func (d *Dispatcher) enqueueScheduler(pid kernel.PID) {
	cpuID := int(pid) % d.Sched.NumCPUs()
	d.Sched.Enqueue(cpuID, pid)
}

// dequeueScheduler removes pid from every simulated CPU's run queues.
// Since the dispatcher doesn't track which CPU a pid landed on, it
// dequeues from all of them; Dequeue is a no-op on CPUs that never
// held pid.
func (d *Dispatcher) dequeueScheduler(pid kernel.PID) {
	for cpu := 0; cpu < d.Sched.NumCPUs(); cpu++ {
		d.Sched.Dequeue(cpu, pid)
	}
}

// Spawn implements spec.md §3's spawn primitive: clones pid's address
// space (COW) and fd table into a fresh child PCB, inheriting its
// permanent capability set, then enqueues the child for scheduling.
func (d *Dispatcher) Spawn(ctx context.Context, pid kernel.PID) (kernel.PID, error) {
	var childPID kernel.PID
	err := d.call(ctx, pid, "spawn", false, func() error {
		child, err := d.Procs.Spawn(pid)
		if err != nil {
			return err
		}
		childPID = child.PID
		return nil
	})
	if err == nil {
		d.enqueueScheduler(childPID)
	}
	return childPID, err
}

// Exit implements exit(status): transitions pid to ZOMBIE and removes
// it from the scheduler's run queues, since a zombie is never runnable
// again.
func (d *Dispatcher) Exit(ctx context.Context, pid kernel.PID, status int) error {
	err := d.call(ctx, pid, "exit", false, func() error {
		return d.Procs.Exit(pid, status)
	})
	if err == nil {
		d.dequeueScheduler(pid)
	}
	return err
}

// Waitpid implements waitpid(childPID, nohang), per the supplemented
// WNOHANG feature. It never itself blocks the calling goroutine: when
// no zombie is ready and nohang is false, it still returns WouldBlock
// immediately, leaving suspension to the caller's scheduler loop, per
// spec.md §5's suspension-point model.
func (d *Dispatcher) Waitpid(ctx context.Context, pid kernel.PID, childPID kernel.PID, nohang bool) (kernel.PID, int, error) {
	var reaped kernel.PID
	var status int
	err := d.call(ctx, pid, "waitpid", false, func() error {
		var err error
		reaped, status, err = d.Procs.WaitPID(pid, childPID, nohang)
		return err
	})
	return reaped, status, err
}

// Kill implements kill(target, sig).
func (d *Dispatcher) Kill(ctx context.Context, pid kernel.PID, target kernel.PID, sig kernel.Signal) error {
	return d.call(ctx, pid, "kill", false, func() error {
		return d.Procs.Kill(target, sig)
	})
}

// Sigaction implements sigaction(sig, disposition) against the calling
// process's own handler table.
func (d *Dispatcher) Sigaction(ctx context.Context, pid kernel.PID, sig kernel.Signal, disposition kernel.Disposition) error {
	return d.call(ctx, pid, "sigaction", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		p.SetHandler(sig, disposition)
		return nil
	})
}

// Pipe implements pipe(), per spec.md §4.8: a fresh bounded ring with
// a read-end and write-end vnode, installed into the calling process's
// descriptor table at its two lowest free slots.
//
// onBrokenPipe signals SIGPIPE against the creating pid; a write end
// later dup'd or inherited into a different process by the caller's
// own design would still raise SIGPIPE against the original creator,
// a known simplification of spec.md §4.8's "raise SIGPIPE on the
// writing process" the dispatcher cannot resolve without tracking
// which process currently owns which descriptor across fork/dup.
func (d *Dispatcher) Pipe(ctx context.Context, pid kernel.PID) (readFD, writeFD int, err error) {
	err = d.call(ctx, pid, "pipe", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		reader, writer := kpipe.NewWithSignal(kpipe.DefaultCapacity, func() {
			d.Procs.Kill(pid, kernel.SIGPIPE)
		})
		readVNode, writeVNode := vfs.NewPipeVNodes(reader, writer, p.UID, p.GID)
		readFD = p.FDs.Install(fdtable.NewOpenFile(readVNode, fdtable.O_RDONLY, uint64(pid)))
		writeFD = p.FDs.Install(fdtable.NewOpenFile(writeVNode, fdtable.O_WRONLY, uint64(pid)))
		return nil
	})
	return readFD, writeFD, err
}

// Dup implements dup(fd).
func (d *Dispatcher) Dup(ctx context.Context, pid kernel.PID, fd int) (int, error) {
	var newFD int
	err := d.call(ctx, pid, "dup", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		newFD, err = p.FDs.Dup(fd)
		return err
	})
	return newFD, err
}

// SchedSetparam implements sched_setparam: reassigns pid's scheduling
// class, nice value, and RT priority, per spec.md §4.7. Taking effect
// on the run queue is left to the next Enqueue (e.g. after the
// process's current time slice expires), consistent with how a real
// scheduler only re-evaluates placement at the next scheduling point.
func (d *Dispatcher) SchedSetparam(ctx context.Context, pid kernel.PID, class kernel.Class, nice int, rtPriority int) error {
	return d.call(ctx, pid, "sched_setparam", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		p.SetClass(class)
		p.SetNice(nice)
		p.SetRTPriority(rtPriority)
		return nil
	})
}

// Getpid implements getpid(): no capability is required, matching
// spec.md §9's identity-only syscalls.
func (d *Dispatcher) Getpid(ctx context.Context, pid kernel.PID) (kernel.PID, error) {
	var self kernel.PID
	err := d.call(ctx, pid, "getpid", false, func() error {
		p, err := d.pcb(pid)
		if err != nil {
			return err
		}
		self = p.PID
		return nil
	})
	return self, err
}
