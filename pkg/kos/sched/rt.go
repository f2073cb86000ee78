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

package sched

import "github.com/kos-project/kos/pkg/kos/kernel"

// rtRunqueue holds RT-FIFO/RT-RR tasks bucketed by priority 1..99, per
// spec.md §4.7: "highest priority runs; equal priority runs until
// block/yield" (FIFO) or "same ordering, but quantum RT_QUANTUM per run"
// (RR). Priority-bucketed slices, not a tree: RT priority has only 99
// discrete values and FIFO ordering within a bucket must be preserved,
// which a single comparator-ordered tree cannot express as directly as a
// queue-per-bucket.
type rtRunqueue struct {
	buckets [100][]kernel.PID // index 1..99; 0 unused
}

func newRTRunqueue() *rtRunqueue {
	return &rtRunqueue{}
}

func (q *rtRunqueue) push(pid kernel.PID, priority int) {
	q.buckets[priority] = append(q.buckets[priority], pid)
}

// pop removes and returns the head of the highest occupied priority
// bucket (FIFO order within that bucket).
func (q *rtRunqueue) pop() (kernel.PID, bool) {
	for p := 99; p >= 1; p-- {
		if len(q.buckets[p]) > 0 {
			pid := q.buckets[p][0]
			q.buckets[p] = q.buckets[p][1:]
			return pid, true
		}
	}
	return 0, false
}

// requeue appends pid to the back of its own priority bucket, for RR
// quantum expiry ("equal priority runs until block/yield" still holds:
// requeue only happens on quantum expiry, not on every tick).
func (q *rtRunqueue) requeue(pid kernel.PID, priority int) {
	q.push(pid, priority)
}

func (q *rtRunqueue) remove(pid kernel.PID) {
	for p := 1; p <= 99; p++ {
		for i, id := range q.buckets[p] {
			if id == pid {
				q.buckets[p] = append(q.buckets[p][:i], q.buckets[p][i+1:]...)
				return
			}
		}
	}
}

func (q *rtRunqueue) empty() bool {
	for p := 1; p <= 99; p++ {
		if len(q.buckets[p]) > 0 {
			return false
		}
	}
	return true
}
