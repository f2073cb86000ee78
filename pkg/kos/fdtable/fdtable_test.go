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

package fdtable_test

import (
	"testing"

	"github.com/kos-project/kos/pkg/kos/fdtable"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
	"github.com/kos-project/kos/pkg/kos/vfs/ramfs"
)

func mountedVFS() (*vfs.VirtualFilesystem, vfs.ProcContext) {
	v := vfs.New()
	v.MountRoot(ramfs.New(0), vfs.MountFlags{})
	ctx := vfs.ProcContext{UID: 1000, GID: 1000, IsRoot: true, Cwd: v.RootDentry()}
	return v, ctx
}

func TestOpenCreateLowestFreeSlot(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()

	fd0, err := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err != nil || fd0 != 0 {
		t.Fatalf("Open a: fd=%d err=%v", fd0, err)
	}
	fd1, err := fdtable.Open(v, tbl, ctx, 1, "/b", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err != nil || fd1 != 1 {
		t.Fatalf("Open b: fd=%d err=%v", fd1, err)
	}

	if err := tbl.Close(fd0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fd2, err := fdtable.Open(v, tbl, ctx, 1, "/c", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err != nil || fd2 != 0 {
		t.Fatalf("Open c should reuse slot 0: fd=%d err=%v", fd2, err)
	}
}

func TestOpenExclOnExistingFails(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()
	if _, err := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT|fdtable.O_EXCL, 0o644); !kerr.Is(err, kerr.AlreadyExists) {
		t.Fatalf("Open O_EXCL on existing: err=%v, want AlreadyExists", err)
	}
}

func TestReadWriteAdvancesSharedPosition(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()
	fd, err := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	of, _ := tbl.Get(fd)
	if _, err := of.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dup, err := tbl.Dup(fd)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	dupOf, _ := tbl.Get(dup)
	if dupOf != of {
		t.Fatal("Dup should share the same OpenFile")
	}

	if _, err := of.Seek(0, fdtable.SeekSet); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := dupOf.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read via dup: got %q err=%v", buf[:n], err)
	}
	if dupOf.Position() != 5 {
		t.Fatalf("Position after shared read: %d, want 5", dupOf.Position())
	}
}

func TestDup2ClosesTarget(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()
	fdA, _ := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	fdB, _ := fdtable.Open(v, tbl, ctx, 1, "/b", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)

	if _, err := tbl.Dup2(fdA, fdB); err != nil {
		t.Fatalf("Dup2: %v", err)
	}
	ofA, _ := tbl.Get(fdA)
	ofB, _ := tbl.Get(fdB)
	if ofA != ofB {
		t.Fatal("Dup2 should make fdB alias fdA's OpenFile")
	}
}

func TestCloseInvalidatesFD(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()
	fd, _ := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)
	if err := tbl.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tbl.Get(fd); !kerr.Is(err, kerr.NotFound) {
		t.Fatalf("Get after close: err=%v, want NotFound", err)
	}
}

func TestForkSharesDescriptors(t *testing.T) {
	v, ctx := mountedVFS()
	tbl := fdtable.New()
	fd, _ := fdtable.Open(v, tbl, ctx, 1, "/a", fdtable.O_RDWR|fdtable.O_CREAT, 0o644)

	child := tbl.Fork()
	of, _ := tbl.Get(fd)
	childOf, err := child.Get(fd)
	if err != nil || childOf != of {
		t.Fatalf("Fork should share the same OpenFile at the same fd: err=%v", err)
	}

	tbl.Close(fd)
	if _, err := child.Get(fd); err != nil {
		t.Fatal("child's fd should remain valid after parent closes its own copy")
	}
}
