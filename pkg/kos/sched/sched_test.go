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

package sched_test

import (
	"testing"
	"time"

	"github.com/kos-project/kos/pkg/kos/kernel"
	"github.com/kos-project/kos/pkg/kos/sched"
)

func fixedClass(classes map[kernel.PID]kernel.Class) func(kernel.PID) kernel.Class {
	return func(pid kernel.PID) kernel.Class { return classes[pid] }
}

func TestRTFIFOPreemptsCFSByPriorityOrder(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{1: kernel.ClassCFS, 2: kernel.ClassRTFIFO}
	prios := map[kernel.PID]int{2: 50}
	s := sched.New(1, func(kernel.PID) int { return 0 }, func(kernel.PID) kernel.Affinity { return kernel.AllCPUs },
		fixedClass(classes), func(pid kernel.PID) int { return prios[pid] })

	s.Enqueue(0, 1)
	s.Enqueue(0, 2)

	pid, ok := s.Pick(0)
	if !ok || pid != 2 {
		t.Fatalf("Pick() = %d, %v; want RT-FIFO task 2 first", pid, ok)
	}
}

func TestCFSPicksLowestVRuntime(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{1: kernel.ClassCFS, 2: kernel.ClassCFS, 3: kernel.ClassCFS}
	s := sched.New(1, func(kernel.PID) int { return 0 }, func(kernel.PID) kernel.Affinity { return kernel.AllCPUs },
		fixedClass(classes), func(kernel.PID) int { return 0 })

	s.Enqueue(0, 1)
	s.Enqueue(0, 2)
	s.Enqueue(0, 3)

	// Each Enqueue starts the new task at the queue's current minimum
	// vruntime minus WakeupGranularity, so the last-enqueued task holds the
	// lowest vruntime: Pick must return 3, then 2, then 1.
	want := []kernel.PID{3, 2, 1}
	seen := map[kernel.PID]bool{}
	for i := 0; i < 3; i++ {
		pid, ok := s.Pick(0)
		if !ok {
			t.Fatalf("Pick() %d: ok=false", i)
		}
		if pid != want[i] {
			t.Fatalf("Pick() %d = %d, want %d (lowest vruntime first)", i, pid, want[i])
		}
		seen[pid] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct picks, got %v", seen)
	}
}

func TestIdleRunsOnlyWhenNothingElseRunnable(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{9: kernel.ClassIdle}
	s := sched.New(1, func(kernel.PID) int { return 0 }, func(kernel.PID) kernel.Affinity { return kernel.AllCPUs },
		fixedClass(classes), func(kernel.PID) int { return 0 })

	if _, ok := s.Pick(0); ok {
		t.Fatal("Pick on empty scheduler should return false")
	}
	s.Enqueue(0, 9)
	pid, ok := s.Pick(0)
	if !ok || pid != 9 {
		t.Fatalf("Pick() = %d, %v; want idle task 9", pid, ok)
	}
}

func TestTickAdvancesVRuntimeAndSignalsPreemption(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{1: kernel.ClassCFS, 2: kernel.ClassCFS}
	s := sched.New(1, func(kernel.PID) int { return 0 }, func(kernel.PID) kernel.Affinity { return kernel.AllCPUs },
		fixedClass(classes), func(kernel.PID) int { return 0 })

	s.Enqueue(0, 1)
	s.Enqueue(0, 2)
	running, ok := s.Pick(0)
	if !ok {
		t.Fatal("Pick failed")
	}

	preempt := s.Tick(0, 50*time.Millisecond)
	_ = running
	if !preempt {
		t.Fatal("a long tick should eventually make the running task's vruntime exceed its slice and trigger preemption")
	}
}

func TestLoadBalanceMigratesFromBusiestWithinAffinity(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{}
	for pid := kernel.PID(1); pid <= 5; pid++ {
		classes[pid] = kernel.ClassCFS
	}
	s := sched.New(2, func(kernel.PID) int { return 0 }, func(kernel.PID) kernel.Affinity { return kernel.AllCPUs },
		fixedClass(classes), func(kernel.PID) int { return 0 })

	for pid := kernel.PID(1); pid <= 5; pid++ {
		s.Enqueue(0, pid)
	}

	migrated, ok := s.LoadBalance(1, 1, int64(time.Millisecond))
	if !ok {
		t.Fatal("expected LoadBalance to pull a task onto the idle CPU 1")
	}
	if migrated == 0 {
		t.Fatal("expected a non-zero migrated pid")
	}
}

func TestLoadBalanceRespectsAffinity(t *testing.T) {
	classes := map[kernel.PID]kernel.Class{1: kernel.ClassCFS, 2: kernel.ClassCFS, 3: kernel.ClassCFS}
	affinity := map[kernel.PID]kernel.Affinity{1: kernel.Affinity(1), 2: kernel.Affinity(1), 3: kernel.Affinity(1)}
	s := sched.New(2, func(kernel.PID) int { return 0 }, func(pid kernel.PID) kernel.Affinity { return affinity[pid] },
		fixedClass(classes), func(kernel.PID) int { return 0 })

	for pid := kernel.PID(1); pid <= 3; pid++ {
		s.Enqueue(0, pid)
	}

	if _, ok := s.LoadBalance(1, 0, int64(time.Millisecond)); ok {
		t.Fatal("no task is affinity-eligible for CPU 1; LoadBalance should report no migration")
	}
}
