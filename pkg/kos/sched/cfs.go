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

import (
	"github.com/google/btree"

	"github.com/kos-project/kos/pkg/kos/kernel"
)

// cfsEntry orders CFS-class runnable tasks by vruntime, pid tie-break,
// per spec.md §4.7: "pick the task with minimum vruntime among runnable
// CFS tasks."
type cfsEntry struct {
	pid      kernel.PID
	vruntime int64
}

func (a cfsEntry) Less(than btree.Item) bool {
	b := than.(cfsEntry)
	if a.vruntime != b.vruntime {
		return a.vruntime < b.vruntime
	}
	return a.pid < b.pid
}

// cfsRunqueue is a CFS/Batch-class run queue: a btree ordered by
// vruntime, the shape spec.md §4.7's "minimum vruntime" pick and
// "current min-vruntime read atomically under the per-runqueue lock"
// (§5) both call for — a balanced tree gives O(log n) insert, removal,
// and min lookup as tasks wake and sleep.
type cfsRunqueue struct {
	tree    *btree.BTree
	byPID   map[kernel.PID]cfsEntry
	minSeen int64
}

func newCFSRunqueue() *cfsRunqueue {
	return &cfsRunqueue{tree: btree.New(32), byPID: make(map[kernel.PID]cfsEntry)}
}

func (q *cfsRunqueue) insert(pid kernel.PID, vruntime int64) {
	if e, ok := q.byPID[pid]; ok {
		q.tree.Delete(e)
	}
	e := cfsEntry{pid: pid, vruntime: vruntime}
	q.byPID[pid] = e
	q.tree.ReplaceOrInsert(e)
	if vruntime < q.minSeen || q.tree.Len() == 1 {
		q.minSeen = vruntime
	}
}

func (q *cfsRunqueue) remove(pid kernel.PID) {
	if e, ok := q.byPID[pid]; ok {
		q.tree.Delete(e)
		delete(q.byPID, pid)
	}
}

// min returns the lowest-vruntime entry without removing it.
func (q *cfsRunqueue) min() (cfsEntry, bool) {
	item := q.tree.Min()
	if item == nil {
		return cfsEntry{}, false
	}
	return item.(cfsEntry), true
}

func (q *cfsRunqueue) len() int { return q.tree.Len() }

// minVRuntime is the queue's current minimum vruntime, used to compute
// new tasks' and wakeups' starting vruntime (spec.md §4.7's wakeup
// preemption rule).
func (q *cfsRunqueue) minVRuntime() int64 {
	if e, ok := q.min(); ok {
		return e.vruntime
	}
	return q.minSeen
}

// totalWeight sums the scheduling weight of every queued task, the
// denominator of spec.md §4.7's per-task time-slice formula.
func (q *cfsRunqueue) totalWeight(niceOf func(kernel.PID) int) int64 {
	var sum int64
	q.tree.Ascend(func(item btree.Item) bool {
		e := item.(cfsEntry)
		sum += Weight(niceOf(e.pid))
		return true
	})
	return sum
}
