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

// Package kchannel implements the IPC request/response channel of
// spec.md §4.8/§6: a length-prefixed framed byte stream with a
// challenge/response auth handshake, JWT-backed sessions, and
// heartbeat-monitored liveness, per SPEC_FULL §3.4.
package kchannel

import (
	"encoding/binary"
	"io"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// Flag bits for a frame, per spec.md §4.8/§6: "bit 0: compressed; bit
// 1: encrypted; bit 2: fragmented; bit 3: requires-ack".
type Flag byte

const (
	FlagCompressed  Flag = 1 << 0
	FlagEncrypted   Flag = 1 << 1
	FlagFragmented  Flag = 1 << 2
	FlagRequiresAck Flag = 1 << 3
)

// MaxFrameSize bounds a single frame's payload, guarding a peer that
// claims an absurd length from exhausting memory before the length
// prefix is even fully validated.
const MaxFrameSize = 16 * 1024 * 1024

// Frame is one wire frame: "[4-byte big-endian length][1-byte
// flags][payload]". Payload is an opaque, already-encoded Message.
type Frame struct {
	Flags   Flag
	Payload []byte
}

// WriteFrame writes f to w as length(flags+payload) | flags | payload.
// Ordering is preserved per channel (spec.md §4.8); callers with
// concurrent senders must serialize their own WriteFrame calls.
func WriteFrame(w io.Writer, f Frame) error {
	total := uint32(len(f.Payload) + 1)
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], total)
	header[4] = byte(f.Flags)
	if _, err := w.Write(header); err != nil {
		return kerr.Wrap(kerr.BrokenPipe, "kchannel.WriteFrame", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return kerr.Wrap(kerr.BrokenPipe, "kchannel.WriteFrame", err)
	}
	return nil
}

// ReadFrame reads one frame from r, rejecting a claimed length over
// MaxFrameSize before allocating a buffer for it.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, kerr.Wrap(kerr.BrokenPipe, "kchannel.ReadFrame", err)
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 {
		return Frame{}, kerr.New(kerr.Corrupt, "kchannel.ReadFrame", "zero-length frame missing flags byte")
	}
	if total > MaxFrameSize {
		return Frame{}, kerr.New(kerr.InvalidArgument, "kchannel.ReadFrame", "frame exceeds maximum size")
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, kerr.Wrap(kerr.BrokenPipe, "kchannel.ReadFrame", err)
	}
	return Frame{Flags: Flag(body[0]), Payload: body[1:]}, nil
}
