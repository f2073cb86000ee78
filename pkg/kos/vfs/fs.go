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

// FilesystemImpl is the driver contract of spec.md §4.5: every pluggable
// filesystem (RamFS being the mandatory one) implements this set.
// Drivers are registered in a mount table keyed by path, per spec.md §9's
// "model as a trait/interface ... register instances in a mount table".
type FilesystemImpl interface {
	Type() string
	GetRoot() *VNode

	Lookup(dir *VNode, name string) (*VNode, error)
	Create(dir *VNode, name string, mode Mode, typ FileType) (*VNode, error)
	Mkdir(dir *VNode, name string, mode Mode) (*VNode, error)
	Unlink(dir *VNode, name string) error
	Rmdir(dir *VNode, name string) error
	Symlink(dir *VNode, name, target string) (*VNode, error)
	Link(dir *VNode, name string, target *VNode) error
	Rename(oldDir *VNode, oldName string, newDir *VNode, newName string) error

	Read(v *VNode, offset int64, buf []byte) (int, error)
	Write(v *VNode, data []byte, offset int64) (int, error)
	Truncate(v *VNode, size int64) error
	Readdir(v *VNode) ([]DirEntry, error)

	Stat(v *VNode) (Attr, error)
	Setattr(v *VNode, attr Attr, mask AttrMask) error
}

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string
	Type FileType
	Ino  uint64
}

// Attr is the stat-able attribute set of a VNode.
type Attr struct {
	Mode Mode
	UID  uint32
	GID  uint32
	Size int64
}

// AttrMask selects which Attr fields Setattr should apply.
type AttrMask uint32

const (
	AttrMode AttrMask = 1 << iota
	AttrUID
	AttrGID
	AttrSize
)
