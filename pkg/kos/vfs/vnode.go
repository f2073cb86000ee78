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

// Package vfs implements the path-resolving virtual file system layer
// over pluggable FilesystemImpl drivers, per spec.md §4.5.
package vfs

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// FileType is one of the VNode types of spec.md §3, encoded as the real
// S_IF* constants per §6's "file types as standard S_IF* values" — reused
// verbatim from golang.org/x/sys/unix rather than redefined.
type FileType uint32

const (
	TypeRegular     FileType = unix.S_IFREG
	TypeDirectory   FileType = unix.S_IFDIR
	TypeSymlink     FileType = unix.S_IFLNK
	TypeCharDevice  FileType = unix.S_IFCHR
	TypeBlockDevice FileType = unix.S_IFBLK
	TypeFIFO        FileType = unix.S_IFIFO
	TypeSocket      FileType = unix.S_IFSOCK
)

// Mode holds the 12 permission bits (rwx for owner/group/other plus
// setuid/setgid/sticky), mirroring S_IF*/mode conventions (§6: "mode bits
// as standard 12-bit octal, file types as standard S_IF* values"); the
// file type itself is kept in VNode.Type, not in Mode.
type Mode uint32

const (
	ModePermMask Mode = 0o7777
	ModeSetuid   Mode = unix.S_ISUID
	ModeSetgid   Mode = unix.S_ISGID
	ModeSticky   Mode = unix.S_ISVTX
)

// Timestamps holds the access/modify/status-change instants of spec.md §3.
type Timestamps struct {
	Access       time.Time
	Modify       time.Time
	StatusChange time.Time
}

// VNode is the universal file object of spec.md §3.
type VNode struct {
	InodeID uint64
	Type    FileType
	Mode    Mode
	UID     uint32
	GID     uint32

	mu    sync.RWMutex
	size  int64
	times Timestamps

	linkCount int32
	openCount int32

	FS FilesystemImpl

	// Payload, by Type: TypeRegular -> *RegularPayload, TypeDirectory ->
	// *DirPayload, TypeSymlink -> string (target path). Owned by the FS
	// driver; vfs itself type-asserts it only to read a symlink's target
	// during path resolution.
	Payload any
}

// RegularPayload backs a TypeRegular VNode: an in-memory byte buffer for
// drivers (like RamFS) that hold file content directly.
type RegularPayload struct {
	mu   sync.Mutex
	Data []byte
}

func (p *RegularPayload) Read(buf []byte, offset int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset >= int64(len(p.Data)) {
		return 0
	}
	return copy(buf, p.Data[offset:])
}

func (p *RegularPayload) Write(data []byte, offset int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := offset + int64(len(data))
	if end > int64(len(p.Data)) {
		grown := make([]byte, end)
		copy(grown, p.Data)
		p.Data = grown
	}
	return copy(p.Data[offset:end], data)
}

func (p *RegularPayload) Truncate(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size <= int64(len(p.Data)) {
		p.Data = p.Data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, p.Data)
	p.Data = grown
}

func (p *RegularPayload) Len() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.Data))
}

// ReadAt satisfies mm.Backing so a regular file's VNode can back a
// file-backed mapping without vfs importing mm.
func (p *RegularPayload) ReadAt(buf []byte, offset int64) (int, error) {
	return p.Read(buf, offset), nil
}

// DirPayload backs a TypeDirectory VNode: a name -> VNode map, per
// spec.md §3's "directories as name->vnode maps".
type DirPayload struct {
	mu       sync.Mutex
	Children map[string]*VNode
}

func NewDirPayload() *DirPayload {
	return &DirPayload{Children: make(map[string]*VNode)}
}

// Lock/Unlock expose DirPayload's mutex to FS drivers (e.g. ramfs) that
// need to hold it across a read-modify-write of Children without vfs
// itself knowing the driver's specific operation.
func (p *DirPayload) Lock()   { p.mu.Lock() }
func (p *DirPayload) Unlock() { p.mu.Unlock() }

// Size returns the VNode's current size attribute.
func (v *VNode) Size() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.size
}

// SetSize updates the VNode's size attribute (callers update Payload
// content separately).
func (v *VNode) SetSize(n int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.size = n
}

// Times returns a copy of the VNode's timestamps.
func (v *VNode) Times() Timestamps {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.times
}

func (v *VNode) Touch(access, modify, statusChange bool, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if access {
		v.times.Access = now
	}
	if modify {
		v.times.Modify = now
	}
	if statusChange {
		v.times.StatusChange = now
	}
}

// LinkCount/OpenCount are accessed with atomics since they're touched
// from link/unlink and open/close independent of the size/time mutex.
func (v *VNode) LinkCount() int32 { return atomic.LoadInt32(&v.linkCount) }
func (v *VNode) OpenCount() int32 { return atomic.LoadInt32(&v.openCount) }

func (v *VNode) IncLinkCount() int32 { return atomic.AddInt32(&v.linkCount, 1) }
func (v *VNode) DecLinkCount() int32 { return atomic.AddInt32(&v.linkCount, -1) }
func (v *VNode) IncOpenCount() int32 { return atomic.AddInt32(&v.openCount, 1) }
func (v *VNode) DecOpenCount() int32 { return atomic.AddInt32(&v.openCount, -1) }

// Destroyable reports spec.md §3's VNode invariant: "files with link
// count 0 and no open descriptors are eligible for destruction."
func (v *VNode) Destroyable() bool {
	return v.LinkCount() == 0 && v.OpenCount() == 0
}
