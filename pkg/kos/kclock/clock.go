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

// Package kclock provides the core's monotonic clock and timer wheel: the
// Clock & Timer Wheel leaf component of spec.md §2. Everything above it —
// scheduler ticks, capability elevation expiry, blocking-syscall
// deadlines, channel heartbeats — schedules through a Clock, never
// time.Now/time.After directly, so that tests can run a Sim clock instead.
package kclock

import "time"

// Clock abstracts monotonic time the way clock.RealClock/clock.FakeClock do
// in the gcsfuse example: Now for reading the current instant, After for a
// one-shot wakeup channel.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock, backed directly by the time package.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// After returns a channel that fires once d has elapsed.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
