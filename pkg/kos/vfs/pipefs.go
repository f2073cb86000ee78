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

package vfs

import "github.com/kos-project/kos/pkg/kos/kerr"

// pipeReader/pipeWriter are the minimal shape kpipe.ReadEnd/WriteEnd
// expose, kept as local interfaces so vfs doesn't import ipc/kpipe:
// the dependency runs the other way (a pipe end becomes a vnode), not
// vfs depending on the IPC package.
type pipeReader interface {
	Read([]byte) (int, error)
	Close() error
}

type pipeWriter interface {
	Write([]byte) (int, error)
	Close() error
}

// PipeFS is the FilesystemImpl backing one end of a pipe, per spec.md
// §4.8's "read end and write end as separate vnodes". It is never
// mounted or registered in a mount table: NewPipeVNodes hands its two
// VNodes directly to the caller, never reachable through path
// resolution, so the directory-shaped methods below are unreachable in
// practice and exist only to satisfy FilesystemImpl.
type PipeFS struct {
	reader pipeReader
	writer pipeWriter
}

func (fs *PipeFS) Type() string    { return "pipefs" }
func (fs *PipeFS) GetRoot() *VNode { return nil }

func (fs *PipeFS) Lookup(dir *VNode, name string) (*VNode, error) {
	return nil, kerr.New(kerr.NotDirectory, "vfs.PipeFS.Lookup", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Create(dir *VNode, name string, mode Mode, typ FileType) (*VNode, error) {
	return nil, kerr.New(kerr.NotDirectory, "vfs.PipeFS.Create", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Mkdir(dir *VNode, name string, mode Mode) (*VNode, error) {
	return nil, kerr.New(kerr.NotDirectory, "vfs.PipeFS.Mkdir", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Unlink(dir *VNode, name string) error {
	return kerr.New(kerr.NotDirectory, "vfs.PipeFS.Unlink", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Rmdir(dir *VNode, name string) error {
	return kerr.New(kerr.NotDirectory, "vfs.PipeFS.Rmdir", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Symlink(dir *VNode, name, target string) (*VNode, error) {
	return nil, kerr.New(kerr.NotDirectory, "vfs.PipeFS.Symlink", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Link(dir *VNode, name string, target *VNode) error {
	return kerr.New(kerr.NotDirectory, "vfs.PipeFS.Link", "pipe vnodes have no directory entries")
}

func (fs *PipeFS) Rename(oldDir *VNode, oldName string, newDir *VNode, newName string) error {
	return kerr.New(kerr.NotDirectory, "vfs.PipeFS.Rename", "pipe vnodes have no directory entries")
}

// Read drains the pipe's read end. offset is ignored: pipes have no
// notion of position, per spec.md §4.8.
func (fs *PipeFS) Read(v *VNode, offset int64, buf []byte) (int, error) {
	if fs.reader == nil {
		return 0, kerr.New(kerr.PermissionDenied, "vfs.PipeFS.Read", "this end of the pipe is not readable")
	}
	return fs.reader.Read(buf)
}

// Write appends to the pipe's write end. offset is ignored.
func (fs *PipeFS) Write(v *VNode, data []byte, offset int64) (int, error) {
	if fs.writer == nil {
		return 0, kerr.New(kerr.PermissionDenied, "vfs.PipeFS.Write", "this end of the pipe is not writable")
	}
	return fs.writer.Write(data)
}

func (fs *PipeFS) Truncate(v *VNode, size int64) error {
	return kerr.New(kerr.InvalidArgument, "vfs.PipeFS.Truncate", "pipes cannot be truncated")
}

func (fs *PipeFS) Readdir(v *VNode) ([]DirEntry, error) {
	return nil, kerr.New(kerr.NotDirectory, "vfs.PipeFS.Readdir", "pipe vnodes are not directories")
}

func (fs *PipeFS) Stat(v *VNode) (Attr, error) {
	return Attr{Mode: v.Mode, UID: v.UID, GID: v.GID, Size: 0}, nil
}

func (fs *PipeFS) Setattr(v *VNode, attr Attr, mask AttrMask) error {
	return kerr.New(kerr.InvalidArgument, "vfs.PipeFS.Setattr", "pipe attributes are not settable")
}

// Close releases this end's underlying kpipe end. It is not part of
// FilesystemImpl: fdtable.OpenFile.release type-asserts for it so a
// pipe's read/write end is actually closed (unblocking the peer end's
// blocked Read/Write, per spec.md §4.8) once the last descriptor
// referring to this vnode is closed, rather than merely decrementing
// an open count the way a plain regular-file close does.
func (fs *PipeFS) Close(v *VNode) error {
	if fs.reader != nil {
		return fs.reader.Close()
	}
	if fs.writer != nil {
		return fs.writer.Close()
	}
	return nil
}

// NewPipeVNodes wraps a connected pipe's read and write ends (as
// produced by kpipe.New) into a standalone VNode pair of TypeFIFO,
// owned by neither RamFS nor any mount: the syscall dispatcher installs
// them directly into the calling process's fdtable.Table, so pipe
// descriptors share the same numbering space as regular files per
// spec.md §4.8.
func NewPipeVNodes(reader pipeReader, writer pipeWriter, uid, gid uint32) (read, write *VNode) {
	read = &VNode{Type: TypeFIFO, Mode: 0o600, UID: uid, GID: gid, FS: &PipeFS{reader: reader}}
	write = &VNode{Type: TypeFIFO, Mode: 0o600, UID: uid, GID: gid, FS: &PipeFS{writer: writer}}
	return read, write
}
