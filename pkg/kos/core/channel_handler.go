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

package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kos-project/kos/pkg/kos/fdtable"
	"github.com/kos-project/kos/pkg/kos/ipc/kchannel"
	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/kerr"
	"github.com/kos-project/kos/pkg/kos/vfs"
)

// maxChannelRead caps an unrequested/oversized read's reply size; a
// shell issuing "read" without a length gets one page at a time rather
// than the handler trying to drain a file in one frame.
const maxChannelRead = 4096

// channelHandler answers one authenticated request by dispatching it to
// the same Dispatcher every scheduled task's syscalls go through,
// making the request channel just another caller of the syscall
// surface rather than a second code path into VFS/kernel state.
func (c *Core) channelHandler(ctx context.Context, _ uuid.UUID, msg kchannel.Message) (kchannel.Message, error) {
	rawPID, err := strconv.Atoi(msg.Header["pid"])
	if err != nil {
		return kchannel.Message{}, kerr.New(kerr.InvalidArgument, "core.channelHandler", "missing or invalid pid header")
	}
	pid := kernel.PID(rawPID)

	switch msg.Header["syscall"] {
	case "getpid":
		self, err := c.Dispatch.Getpid(ctx, pid)
		if err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{Header: map[string]string{"pid": strconv.Itoa(int(self))}}, nil

	case "stat":
		attr, err := c.Dispatch.Stat(ctx, pid, msg.Header["path"])
		if err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{Header: map[string]string{
			"mode": strconv.FormatUint(uint64(attr.Mode), 8),
			"size": strconv.FormatInt(attr.Size, 10),
			"uid":  strconv.FormatUint(uint64(attr.UID), 10),
			"gid":  strconv.FormatUint(uint64(attr.GID), 10),
		}}, nil

	case "mkdir":
		mode, _ := strconv.ParseUint(msg.Header["mode"], 8, 32)
		if err := c.Dispatch.Mkdir(ctx, pid, msg.Header["path"], vfs.Mode(mode)); err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{}, nil

	case "readdir":
		entries, err := c.Dispatch.Readdir(ctx, pid, msg.Header["path"])
		if err != nil {
			return kchannel.Message{}, err
		}
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%s\n", e.Name)
		}
		return kchannel.Message{Body: []byte(b.String())}, nil

	case "open":
		flags, _ := strconv.ParseUint(msg.Header["flags"], 10, 32)
		mode, _ := strconv.ParseUint(msg.Header["mode"], 8, 32)
		fd, err := c.Dispatch.Open(ctx, pid, msg.Header["path"], fdtable.OpenFlags(flags), vfs.Mode(mode))
		if err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{Header: map[string]string{"fd": strconv.Itoa(fd)}}, nil

	case "close":
		fd, _ := strconv.Atoi(msg.Header["fd"])
		if err := c.Dispatch.Close(ctx, pid, fd); err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{}, nil

	case "read":
		fd, _ := strconv.Atoi(msg.Header["fd"])
		length := maxChannelRead
		if n, err := strconv.Atoi(msg.Header["length"]); err == nil && n > 0 && n < maxChannelRead {
			length = n
		}
		buf := make([]byte, length)
		n, err := c.Dispatch.Read(ctx, pid, fd, buf)
		if err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{Body: buf[:n]}, nil

	case "write":
		fd, _ := strconv.Atoi(msg.Header["fd"])
		n, err := c.Dispatch.Write(ctx, pid, fd, msg.Body)
		if err != nil {
			return kchannel.Message{}, err
		}
		return kchannel.Message{Header: map[string]string{"n": strconv.Itoa(n)}}, nil

	default:
		return kchannel.Message{}, kerr.New(kerr.InvalidArgument, "core.channelHandler", "unknown syscall: "+msg.Header["syscall"])
	}
}
