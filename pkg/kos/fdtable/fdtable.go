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

// Package fdtable implements the per-process file descriptor table of
// spec.md §3/§4.4: a dense small-integer -> Open File mapping, where
// duplicated descriptors share one Open File and its position.
package fdtable

import (
	"sync"
	"sync/atomic"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// OpenFlags mirrors the POSIX-like open flags of spec.md §6.
type OpenFlags uint32

const (
	O_RDONLY OpenFlags = 1 << iota
	O_WRONLY
	O_RDWR
	O_CREAT
	O_EXCL
	O_TRUNC
	O_APPEND
	O_NONBLOCK
	O_DIRECTORY
)

func (f OpenFlags) Readable() bool { return f&O_RDONLY != 0 || f&O_RDWR != 0 }
func (f OpenFlags) Writable() bool { return f&O_WRONLY != 0 || f&O_RDWR != 0 }

// Whence selects lseek's origin, per spec.md §6.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// OpenFile is spec.md §3's "(vnode, flags, position, owning pid)": the
// object a file descriptor refers to, possibly shared by several fds
// across dup/dup2 or fork.
type OpenFile struct {
	VNode *vfs.VNode
	Flags OpenFlags
	Pid   uint64

	mu  sync.Mutex
	pos int64

	refCount int32
}

// NewOpenFile constructs an OpenFile at position 0, or at vnode's current
// size if O_APPEND is set.
func NewOpenFile(v *vfs.VNode, flags OpenFlags, pid uint64) *OpenFile {
	of := &OpenFile{VNode: v, Flags: flags, Pid: pid, refCount: 1}
	if flags&O_APPEND != 0 {
		of.pos = v.Size()
	}
	v.IncOpenCount()
	return of
}

func (of *OpenFile) incRef() { atomic.AddInt32(&of.refCount, 1) }

// closer is the optional FilesystemImpl extension a driver implements
// when a vnode holds a resource that must be released on last close
// (e.g. vfs.PipeFS releasing its kpipe end) rather than just dropping
// an open count. Most drivers (ramfs) need nothing here, so this is a
// type assertion rather than a FilesystemImpl method every driver
// would otherwise have to implement as a no-op.
type closer interface {
	Close(v *vfs.VNode) error
}

// release drops a reference, invoking the owning driver's Close hook
// (if any) and decrementing the underlying VNode's open count when the
// last descriptor referring to this OpenFile is closed.
func (of *OpenFile) release() {
	if atomic.AddInt32(&of.refCount, -1) == 0 {
		if c, ok := of.VNode.FS.(closer); ok {
			c.Close(of.VNode)
		}
		of.VNode.DecOpenCount()
	}
}

// Position returns the OpenFile's current seek offset.
func (of *OpenFile) Position() int64 {
	of.mu.Lock()
	defer of.mu.Unlock()
	return of.pos
}

// Seek implements lseek: spec.md §6 "updates position without
// bounds-checking beyond vnode end (writes past end extend)".
func (of *OpenFile) Seek(offset int64, whence Whence) (int64, error) {
	of.mu.Lock()
	defer of.mu.Unlock()
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = of.pos
	case SeekEnd:
		base = of.VNode.Size()
	default:
		return 0, kerr.New(kerr.InvalidArgument, "fdtable.Seek", "bad whence")
	}
	next := base + offset
	if next < 0 {
		return 0, kerr.New(kerr.InvalidArgument, "fdtable.Seek", "negative resulting offset")
	}
	of.pos = next
	return next, nil
}

// Read reads from the owning VNode's filesystem driver at the OpenFile's
// current position, then advances it by the amount read, per spec.md §6:
// "read/write advance the Open File's position atomically with the data
// movement."
func (of *OpenFile) Read(buf []byte) (int, error) {
	if !of.Flags.Readable() {
		return 0, kerr.New(kerr.PermissionDenied, "fdtable.Read", "not opened for reading")
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	n, err := of.VNode.FS.Read(of.VNode, of.pos, buf)
	of.pos += int64(n)
	return n, err
}

// Write writes to the owning VNode's filesystem driver at the OpenFile's
// current position (or at end-of-file when O_APPEND is set), then
// advances the position by the amount written.
func (of *OpenFile) Write(data []byte) (int, error) {
	if !of.Flags.Writable() {
		return 0, kerr.New(kerr.PermissionDenied, "fdtable.Write", "not opened for writing")
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	if of.Flags&O_APPEND != 0 {
		of.pos = of.VNode.Size()
	}
	n, err := of.VNode.FS.Write(of.VNode, data, of.pos)
	of.pos += int64(n)
	return n, err
}

// Table is spec.md §3's per-process File Descriptor Table: "after close,
// the integer is immediately reusable; lowest-numbered free slot is
// chosen by open-style operations."
type Table struct {
	mu    sync.Mutex
	files map[int]*OpenFile
}

// New constructs an empty file descriptor table.
func New() *Table {
	return &Table{files: make(map[int]*OpenFile)}
}

// lowestFree returns the smallest fd not currently in use. Caller must
// hold t.mu.
func (t *Table) lowestFree() int {
	fd := 0
	for {
		if _, used := t.files[fd]; !used {
			return fd
		}
		fd++
	}
}

// Install inserts of at the lowest free slot and returns that fd, per
// spec.md §4.4's open allocation rule.
func (t *Table) Install(of *OpenFile) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.lowestFree()
	t.files[fd] = of
	return fd
}

// InstallAt installs of at exactly fd, closing and releasing whatever was
// there before (dup2 semantics).
func (t *Table) InstallAt(fd int, of *OpenFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.files[fd]; ok {
		old.release()
	}
	t.files[fd] = of
}

// Get returns the OpenFile bound to fd.
func (t *Table) Get(fd int) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[fd]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "fdtable.Get", "bad file descriptor")
	}
	return of, nil
}

// Close removes fd from the table and releases its OpenFile reference.
// Per spec.md §4.4, fd becomes immediately reusable.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[fd]
	if !ok {
		return kerr.New(kerr.NotFound, "fdtable.Close", "bad file descriptor")
	}
	delete(t.files, fd)
	of.release()
	return nil
}

// Snapshot returns a fd->OpenFile copy of the table, for read-only
// introspection (procfs's per-pid "fd" listing) that must not race the
// table's own mutex.
func (t *Table) Snapshot() map[int]*OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]*OpenFile, len(t.files))
	for fd, of := range t.files {
		out[fd] = of
	}
	return out
}

// Dup duplicates fd onto the lowest free slot, sharing the same OpenFile
// (and therefore its position), per the supplemented dup/dup2 feature.
func (t *Table) Dup(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[fd]
	if !ok {
		return 0, kerr.New(kerr.NotFound, "fdtable.Dup", "bad file descriptor")
	}
	newfd := t.lowestFree()
	of.incRef()
	t.files[newfd] = of
	return newfd, nil
}

// Dup2 duplicates oldfd onto newfd exactly, closing whatever newfd held.
// A no-op if oldfd == newfd and oldfd is valid.
func (t *Table) Dup2(oldfd, newfd int) (int, error) {
	if oldfd == newfd {
		t.mu.Lock()
		_, ok := t.files[oldfd]
		t.mu.Unlock()
		if !ok {
			return 0, kerr.New(kerr.NotFound, "fdtable.Dup2", "bad file descriptor")
		}
		return newfd, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[oldfd]
	if !ok {
		return 0, kerr.New(kerr.NotFound, "fdtable.Dup2", "bad file descriptor")
	}
	if old, exists := t.files[newfd]; exists {
		old.release()
	}
	of.incRef()
	t.files[newfd] = of
	return newfd, nil
}

// Fork returns a new Table sharing every OpenFile with t (each reference
// counted), for process-spawn semantics where a child inherits its
// parent's open descriptors.
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := New()
	for fd, of := range t.files {
		of.incRef()
		clone.files[fd] = of
	}
	return clone
}

// CloseAll releases every descriptor, e.g. on process exit.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, of := range t.files {
		of.release()
		delete(t.files, fd)
	}
}

// Len reports how many descriptors are currently open.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
