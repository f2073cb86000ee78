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
	"testing"
	"time"
)

func TestWheelFiresInOrder(t *testing.T) {
	sim := NewSim(time.Unix(0, 0))
	w := NewWheel(sim)

	var fired []string
	w.After(2*time.Second, func() { fired = append(fired, "b") })
	w.After(1*time.Second, func() { fired = append(fired, "a") })
	w.After(3*time.Second, func() { fired = append(fired, "c") })

	sim.Advance(1 * time.Second)
	w.Tick()
	sim.Advance(1 * time.Second)
	w.Tick()
	sim.Advance(1 * time.Second)
	w.Tick()

	want := []string{"a", "b", "c"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

func TestWheelCancel(t *testing.T) {
	sim := NewSim(time.Unix(0, 0))
	w := NewWheel(sim)

	ran := false
	cancel := w.After(1*time.Second, func() { ran = true })
	cancel()

	sim.Advance(2 * time.Second)
	w.Tick()

	if ran {
		t.Fatal("canceled callback ran")
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", w.Len())
	}
}

func TestSimClockAfterPast(t *testing.T) {
	sim := NewSim(time.Unix(0, 0))
	select {
	case <-sim.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}
