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

package kernel

import "github.com/kos-project/kos/pkg/kos/kerr"

// Kill delivers sig to pid, per spec.md §4.9's kill syscall and §4.7's
// transition table. SIGKILL always terminates regardless of mask or
// handler, matching POSIX; other signals observe the process's signal
// mask (blocked signals are only recorded as pending) and registered
// disposition.
func (t *Table) Kill(pid PID, sig Signal) error {
	pcb, err := t.Get(pid)
	if err != nil {
		return err
	}

	pcb.mu.Lock()
	if sig != SIGKILL && pcb.sigMask.Has(sig) {
		pcb.sigPend = pcb.sigPend.Add(sig)
		pcb.mu.Unlock()
		return nil
	}
	disposition := pcb.handlers[sig]
	pcb.mu.Unlock()

	if disposition == DispositionIgnore && sig != SIGKILL {
		return nil
	}
	if disposition == DispositionHandler && sig != SIGKILL {
		pcb.mu.Lock()
		pcb.sigPend = pcb.sigPend.Add(sig)
		pcb.mu.Unlock()
		return nil
	}

	switch {
	case sig == SIGKILL || terminatesProcess(sig):
		return t.Exit(pid, exitStatusForSignal(sig))
	case stopsProcess(sig):
		pcb.setState(Stopped)
	case continuesProcess(sig):
		if pcb.State() == Stopped {
			pcb.setState(Runnable)
		}
	default:
		pcb.mu.Lock()
		pcb.sigPend = pcb.sigPend.Add(sig)
		pcb.mu.Unlock()
	}
	return nil
}

// exitStatusForSignal encodes termination-by-signal the way POSIX
// shells report it: 128 + signal number.
func exitStatusForSignal(sig Signal) int {
	return 128 + int(sig)
}

// ConsumeSignal clears and returns one pending, unblocked signal for pid,
// for delivery at the next syscall boundary (spec.md §5's "signal
// delivery at the next syscall boundary"). The second return is false
// when nothing is pending.
func (t *Table) ConsumeSignal(pid PID) (Signal, bool, error) {
	pcb, err := t.Get(pid)
	if err != nil {
		return 0, false, kerr.Wrap(kerr.NotFound, "kernel.ConsumeSignal", err)
	}
	pcb.mu.Lock()
	defer pcb.mu.Unlock()
	deliverable := pcb.sigPend &^ pcb.sigMask
	for sig := Signal(0); sig < 64; sig++ {
		if deliverable.Has(sig) {
			pcb.sigPend = pcb.sigPend.Clear(sig)
			return sig, true, nil
		}
	}
	return 0, false, nil
}
