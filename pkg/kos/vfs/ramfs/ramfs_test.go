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

package ramfs_test

import (
	"testing"

	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
	"github.com/kos-project/kos/pkg/kos/vfs/ramfs"
)

func mountedVFS(quota int64) (*vfs.VirtualFilesystem, vfs.ProcContext) {
	v := vfs.New()
	fs := ramfs.New(quota)
	v.MountRoot(fs, vfs.MountFlags{})
	ctx := vfs.ProcContext{UID: 1000, GID: 1000, Cwd: v.RootDentry()}
	return v, ctx
}

// TestFileRoundTrip mirrors scenario S1.
func TestFileRoundTrip(t *testing.T) {
	v, ctx := mountedVFS(0)

	d, err := v.Create(ctx, "/a.txt", 0o644, vfs.TypeRegular)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fs := d.VNode.FS
	n, err := fs.Write(d.VNode, []byte("hello"), 0)
	if err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 8)
	n, err = fs.Read(d.VNode, 0, buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read: got %q err=%v", buf[:n], err)
	}

	attr, err := v.Stat(d)
	if err != nil || attr.Size != 5 {
		t.Fatalf("Stat: size=%d err=%v", attr.Size, err)
	}

	if err := v.Unlink(ctx, "/a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := v.Resolve(ctx, "/a.txt"); !kerr.Is(err, kerr.NotFound) {
		t.Fatalf("Resolve after unlink: err=%v, want NotFound", err)
	}
}

// TestSymlinkLoopDetection mirrors scenario S2.
func TestSymlinkLoopDetection(t *testing.T) {
	v, ctx := mountedVFS(0)

	if _, err := v.Symlink(ctx, "/b", "/a"); err != nil {
		t.Fatalf("Symlink b->a: %v", err)
	}
	if _, err := v.Symlink(ctx, "/a", "/b"); err != nil {
		t.Fatalf("Symlink a->b: %v", err)
	}
	if _, err := v.Resolve(ctx, "/a"); !kerr.Is(err, kerr.SymlinkLoop) {
		t.Fatalf("Resolve /a: err=%v, want SymlinkLoop", err)
	}
}

func TestMkdirRmdirRestoresState(t *testing.T) {
	v, ctx := mountedVFS(0)

	if _, err := v.Mkdir(ctx, "/d", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	before, _ := v.Readdir(v.RootDentry())

	if err := v.Rmdir(ctx, "/d"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	after, _ := v.Readdir(v.RootDentry())
	if len(after) != len(before)-1 {
		t.Fatalf("Readdir after rmdir: len=%d, want %d", len(after), len(before)-1)
	}
}

func TestQuotaEnforcement(t *testing.T) {
	v, ctx := mountedVFS(4)

	d, err := v.Create(ctx, "/f", 0o644, vfs.TypeRegular)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fs := d.VNode.FS
	if _, err := fs.Write(d.VNode, []byte("12345"), 0); !kerr.Is(err, kerr.NoSpace) {
		t.Fatalf("Write over quota: err=%v, want NoSpace", err)
	}
}

func TestRenameAtomicVisibility(t *testing.T) {
	v, ctx := mountedVFS(0)
	if _, err := v.Create(ctx, "/old", 0o644, vfs.TypeRegular); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := v.Rename(ctx, "/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := v.Resolve(ctx, "/old"); err == nil {
		t.Fatal("expected /old to no longer resolve")
	}
	if _, err := v.Resolve(ctx, "/new"); err != nil {
		t.Fatalf("Resolve /new: %v", err)
	}
}
