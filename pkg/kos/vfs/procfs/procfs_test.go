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

package procfs_test

import (
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/kos-project/kos/pkg/kos/capability"
	"github.com/kos-project/kos/pkg/kos/kclock"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/pgalloc"
	"github.com/kos-project/kos/pkg/kos/vfs"
	"github.com/kos-project/kos/pkg/kos/vfs/procfs"
	"github.com/kos-project/kos/pkg/kos/vfs/ramfs"
)

func newProcs(t *testing.T) (*kernel.Table, *kernel.PCB) {
	t.Helper()
	caps := capability.NewManager(kclock.Real{}, capability.NewAudit(16, ""), nil)
	pages := pgalloc.New(64)
	v := vfs.New()
	root := v.MountRoot(ramfs.New(0), vfs.MountFlags{})
	procs := kernel.New(caps)
	init := procs.SpawnInit(pages, root, capability.NewSet(capability.ROOT))
	return procs, init
}

func TestRootReaddirListsLivePids(t *testing.T) {
	procs, init := newProcs(t)
	child, err := procs.Spawn(init.PID)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	fs := procfs.New(procs)
	entries, err := fs.Readdir(fs.GetRoot())
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
		if e.Type != vfs.TypeDirectory {
			t.Fatalf("entry %q type = %v, want TypeDirectory", e.Name, e.Type)
		}
	}
	sort.Strings(names)
	want := []string{strconv.Itoa(int(init.PID)), strconv.Itoa(int(child.PID))}
	sort.Strings(want)
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("root Readdir names = %v, want %v", names, want)
	}
}

func TestLookupPidDirAndFiles(t *testing.T) {
	procs, init := newProcs(t)
	fs := procfs.New(procs)

	pidDir, err := fs.Lookup(fs.GetRoot(), strconv.Itoa(int(init.PID)))
	if err != nil {
		t.Fatalf("Lookup(pid): %v", err)
	}
	if pidDir.Type != vfs.TypeDirectory {
		t.Fatalf("pid entry type = %v, want TypeDirectory", pidDir.Type)
	}

	for _, name := range []string{"status", "stat", "fd"} {
		v, err := fs.Lookup(pidDir, name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if v.Type != vfs.TypeRegular {
			t.Fatalf("%q type = %v, want TypeRegular", name, v.Type)
		}
	}

	if _, err := fs.Lookup(pidDir, "nonexistent"); err == nil {
		t.Fatal("expected error looking up an unknown file")
	}
}

func TestLookupUnknownPidFails(t *testing.T) {
	procs, _ := newProcs(t)
	fs := procfs.New(procs)
	if _, err := fs.Lookup(fs.GetRoot(), "999999"); err == nil {
		t.Fatal("expected error looking up a pid that was never spawned")
	}
}

func TestReadStatusReflectsLiveState(t *testing.T) {
	procs, init := newProcs(t)
	fs := procfs.New(procs)

	pidDir, err := fs.Lookup(fs.GetRoot(), strconv.Itoa(int(init.PID)))
	if err != nil {
		t.Fatalf("Lookup(pid): %v", err)
	}
	statusFile, err := fs.Lookup(pidDir, "status")
	if err != nil {
		t.Fatalf("Lookup(status): %v", err)
	}

	buf := make([]byte, 4096)
	n, err := fs.Read(statusFile, 0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	content := string(buf[:n])
	if !strings.Contains(content, "Pid:\t"+strconv.Itoa(int(init.PID))) {
		t.Fatalf("status content missing Pid line: %q", content)
	}
	if !strings.Contains(content, "State:\t") {
		t.Fatalf("status content missing State line: %q", content)
	}
}

func TestMutationsRejectedReadOnly(t *testing.T) {
	procs, _ := newProcs(t)
	fs := procfs.New(procs)

	if _, err := fs.Create(fs.GetRoot(), "x", 0o644, vfs.TypeRegular); err == nil {
		t.Fatal("expected Create to fail on a read-only procfs")
	}
	if _, err := fs.Mkdir(fs.GetRoot(), "x", 0o755); err == nil {
		t.Fatal("expected Mkdir to fail on a read-only procfs")
	}
	if err := fs.Unlink(fs.GetRoot(), "x"); err == nil {
		t.Fatal("expected Unlink to fail on a read-only procfs")
	}
}
