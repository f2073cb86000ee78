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

// Package kpipe implements the bounded ring-buffer pipes of spec.md
// §4.8: a fixed-capacity byte ring with separate read and write ends,
// blocking full/empty semantics, and the EOF/BrokenPipe/SIGPIPE
// behavior of closing either end.
package kpipe

import (
	"sync"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// DefaultCapacity is spec.md §4.8's "bounded ring buffer (default 64
// KiB)".
const DefaultCapacity = 64 * 1024

// Pipe is the shared ring buffer behind a pipe's read and write ends.
// Read and Write block (via cond) on empty/full respectively, rather
// than busy-waiting. The pipe has no non-blocking mode of its own: a
// Read or Write that must wait stays blocked until the other end moves
// data or closes.
type Pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf   []byte
	start int // index of the oldest byte
	count int // number of valid bytes

	readers int // open read-end count
	writers int // open write-end count

	// onBrokenPipe, if set, is invoked (outside the ring's lock) on
	// every write that observes zero remaining readers, so a caller
	// can raise SIGPIPE on the writing process per spec.md §4.8.
	onBrokenPipe func()
}

// New constructs a pipe with the given ring capacity (DefaultCapacity
// if cap <= 0) and one open reader and one open writer, the shape
// pipe() hands back: (r, w).
func New(capacity int) (*ReadEnd, *WriteEnd) {
	return NewWithSignal(capacity, nil)
}

// NewWithSignal is New, additionally invoking onBrokenPipe each time a
// write to this pipe observes its read end fully closed, so the
// caller can raise SIGPIPE on the writing process.
func NewWithSignal(capacity int, onBrokenPipe func()) (*ReadEnd, *WriteEnd) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pipe{buf: make([]byte, capacity), readers: 1, writers: 1, onBrokenPipe: onBrokenPipe}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return &ReadEnd{p: p}, &WriteEnd{p: p}
}

func (p *Pipe) closeReader() {
	p.mu.Lock()
	p.readers--
	if p.readers == 0 {
		// Wake blocked writers so they observe BrokenPipe rather than
		// hanging forever on a full buffer nobody will ever drain.
		p.notFull.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Pipe) closeWriter() {
	p.mu.Lock()
	p.writers--
	if p.writers == 0 {
		// Wake blocked readers so they observe EOF on the now-final
		// drain of whatever bytes remain.
		p.notEmpty.Broadcast()
	}
	p.mu.Unlock()
}

// read drains up to len(dst) bytes, blocking while the buffer is empty
// and at least one writer remains open. Returns (0, nil) for EOF
// (buffer empty, no writers left), matching spec.md's scenario S5:
// "reads again (gets 0, EOF)".
func (p *Pipe) read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 && p.writers > 0 {
		p.notEmpty.Wait()
	}
	if p.count == 0 {
		return 0, nil // EOF
	}

	n := len(dst)
	if n > p.count {
		n = p.count
	}
	for i := 0; i < n; i++ {
		dst[i] = p.buf[(p.start+i)%len(p.buf)]
	}
	p.start = (p.start + n) % len(p.buf)
	p.count -= n
	p.notFull.Broadcast()
	return n, nil
}

// write appends src to the ring, blocking while the buffer is full and
// at least one reader remains open. Returns BrokenPipe immediately
// (without blocking) once no reader remains, per spec.md §4.8:
// "closing all read ends causes writes to fail with BrokenPipe".
func (p *Pipe) write(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(src) {
		if p.readers == 0 {
			if p.onBrokenPipe != nil {
				signal := p.onBrokenPipe
				p.mu.Unlock()
				signal()
				p.mu.Lock()
			}
			return written, kerr.New(kerr.BrokenPipe, "kpipe.Write", "no read end remains open")
		}
		free := len(p.buf) - p.count
		for free == 0 && p.readers > 0 {
			p.notFull.Wait()
			free = len(p.buf) - p.count
		}
		if p.readers == 0 {
			continue // loop back to the BrokenPipe check above
		}
		n := len(src) - written
		if n > free {
			n = free
		}
		end := (p.start + p.count) % len(p.buf)
		for i := 0; i < n; i++ {
			p.buf[(end+i)%len(p.buf)] = src[written+i]
		}
		p.count += n
		written += n
		p.notEmpty.Broadcast()
	}
	return written, nil
}

// ReadEnd is a pipe's read-only vnode-facing handle.
type ReadEnd struct {
	p      *Pipe
	mu     sync.Mutex
	closed bool
}

// Read implements io.Reader's contract over the shared ring.
func (r *ReadEnd) Read(dst []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, kerr.New(kerr.BadState, "kpipe.ReadEnd.Read", "read end already closed")
	}
	r.mu.Unlock()
	return r.p.read(dst)
}

// Close releases this read end; once every read end is closed,
// blocked/future writers observe BrokenPipe.
func (r *ReadEnd) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.p.closeReader()
	return nil
}

// WriteEnd is a pipe's write-only vnode-facing handle.
type WriteEnd struct {
	p      *Pipe
	mu     sync.Mutex
	closed bool
}

// Write implements io.Writer's contract over the shared ring.
func (w *WriteEnd) Write(src []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, kerr.New(kerr.BadState, "kpipe.WriteEnd.Write", "write end already closed")
	}
	w.mu.Unlock()
	return w.p.write(src)
}

// Close releases this write end; once every write end is closed,
// blocked/future readers drain the remainder then observe EOF.
func (w *WriteEnd) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	w.p.closeWriter()
	return nil
}
