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

import "golang.org/x/sys/unix"

// Signal is KOS's own small signal number space (SPEC_FULL §4: "Non-goal
// excludes Linux ABI numbers, not signals as a concept"). The numbers
// themselves are reused verbatim from golang.org/x/sys/unix rather than
// redefined, matching mm.SIGSEGV.
type Signal int

const (
	SIGKILL Signal = unix.SIGKILL
	SIGTERM Signal = unix.SIGTERM
	SIGSTOP Signal = unix.SIGSTOP
	SIGCONT Signal = unix.SIGCONT
	SIGSEGV Signal = unix.SIGSEGV
	SIGPIPE Signal = unix.SIGPIPE
	SIGCHLD Signal = unix.SIGCHLD
	SIGUSR1 Signal = unix.SIGUSR1
	SIGUSR2 Signal = unix.SIGUSR2
)

// SignalSet is a bitmask of pending or blocked signals.
type SignalSet uint32

func signalBit(sig Signal) SignalSet { return SignalSet(1) << uint(sig) }

func (s SignalSet) Has(sig Signal) bool        { return s&signalBit(sig) != 0 }
func (s SignalSet) Add(sig Signal) SignalSet   { return s | signalBit(sig) }
func (s SignalSet) Clear(sig Signal) SignalSet { return s &^ signalBit(sig) }

// Disposition is how a process handles a delivered signal, per
// SPEC_FULL §4's "kernel.SignalAction": default, ignored, or a
// registered handler invoked at the next syscall boundary.
type Disposition int

const (
	DispositionDefault Disposition = iota
	DispositionIgnore
	DispositionHandler
)

// stopsProcess reports whether sig's default action is to transition the
// process to STOPPED (spec.md §4.7's transition table) rather than to
// terminate or be ignored.
func stopsProcess(sig Signal) bool {
	return sig == SIGSTOP
}

// continuesProcess reports whether sig's default action is STOPPED ->
// RUNNABLE.
func continuesProcess(sig Signal) bool {
	return sig == SIGCONT
}

// terminatesProcess reports whether sig's default disposition, when
// unhandled, kills the process (transitioning it to ZOMBIE).
func terminatesProcess(sig Signal) bool {
	switch sig {
	case SIGKILL, SIGTERM, SIGSEGV, SIGPIPE:
		return true
	default:
		return false
	}
}
