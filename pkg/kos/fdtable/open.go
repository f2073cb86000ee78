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

package fdtable

import (
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// Open implements spec.md §4.4's open(path, flags, mode): path resolution
// (creating on O_CREAT, honoring O_EXCL), a permission check for the
// requested access, and installation of the resulting Open File at the
// table's lowest free index.
func Open(v *vfs.VirtualFilesystem, t *Table, ctx vfs.ProcContext, pid uint64, path string, flags OpenFlags, mode vfs.Mode) (int, error) {
	d, err := v.Resolve(ctx, path)
	switch {
	case err == nil:
		if flags&O_CREAT != 0 && flags&O_EXCL != 0 {
			return 0, kerr.New(kerr.AlreadyExists, "fdtable.Open", "O_CREAT|O_EXCL on existing path")
		}
	case kerr.Is(err, kerr.NotFound) && flags&O_CREAT != 0:
		d, err = v.Create(ctx, path, mode, vfs.TypeRegular)
		if err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	if flags&O_DIRECTORY != 0 && d.VNode.Type != vfs.TypeDirectory {
		return 0, kerr.New(kerr.NotDirectory, "fdtable.Open", "O_DIRECTORY on a non-directory")
	}
	if !vfs.CheckPermission(ctx, d.VNode, flags.Readable(), flags.Writable(), false) {
		return 0, kerr.New(kerr.PermissionDenied, "fdtable.Open", "requested access denied")
	}

	if flags&O_TRUNC != 0 && d.VNode.Type == vfs.TypeRegular {
		if err := v.Setattr(d, vfs.Attr{Size: 0}, vfs.AttrSize); err != nil {
			return 0, err
		}
	}

	of := NewOpenFile(d.VNode, flags, pid)
	return t.Install(of), nil
}
