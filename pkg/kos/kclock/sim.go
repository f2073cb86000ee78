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

package kclock

import (
	"sync"
	"time"
)

// Sim is a Clock that only moves when Advance is called. It backs
// deterministic tests of capability elevation expiry (scenario S6) and
// scheduler fairness (scenario S3) without sleeping real wall-clock time.
type Sim struct {
	mu      sync.Mutex
	now     time.Time
	waiters []simWaiter
}

type simWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewSim creates a Sim clock starting at the given instant.
func NewSim(start time.Time) *Sim {
	return &Sim{now: start}
}

// Now returns the simulated current instant.
func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// After returns a channel that fires once the Sim's clock has been
// Advance-d past d from the current instant.
func (s *Sim) After(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := s.now.Add(d)
	if !deadline.After(s.now) {
		ch <- s.now
		return ch
	}
	s.waiters = append(s.waiters, simWaiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the simulated clock forward by d, firing any waiters whose
// deadline has been reached.
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		if !w.deadline.After(s.now) {
			w.ch <- s.now
		} else {
			remaining = append(remaining, w)
		}
	}
	s.waiters = remaining
}
