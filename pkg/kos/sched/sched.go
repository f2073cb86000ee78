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

// Package sched implements the per-CPU, class-priority scheduler of
// spec.md §4.7: RT-FIFO/RT-RR above CFS above batch above idle, with
// Linux-shaped CFS vruntime accounting and periodic load balancing.
package sched

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/kos-project/kos/pkg/kos/kernel"
)

const (
	// MinGranularity lower-bounds a CFS task's computed time slice.
	MinGranularity = 1 * time.Millisecond
	// SchedLatency is the target period in which every runnable CFS task
	// gets scheduled at least once.
	SchedLatency = 6 * time.Millisecond
	// WakeupGranularity bounds how far behind the queue minimum a waking
	// task's vruntime may be set, per spec.md §4.7's anti-starvation rule.
	WakeupGranularity = 1 * time.Millisecond
	// RTQuantum is the per-run quantum for RT-RR tasks.
	RTQuantum = 10 * time.Millisecond
	// BalanceInterval is the period between load-balancing passes.
	BalanceInterval = 100 * time.Millisecond
)

// NiceLookup resolves a pid's current nice value, for CFS weight/time-
// slice computation; Scheduler takes this as a function rather than
// holding kernel.PCBs itself, keeping sched decoupled from how the
// caller stores process state.
type NiceLookup func(kernel.PID) int

// cpu is one simulated CPU's per-class run queues, per spec.md §4.7/§5:
// "the host runs N worker threads, one per simulated CPU... each worker
// owns one per-CPU runqueue."
type cpu struct {
	mu sync.Mutex

	rtFIFO *rtRunqueue
	rtRR   *rtRunqueue
	cfs    *cfsRunqueue
	batch  *cfsRunqueue
	idle   []kernel.PID

	running         kernel.PID
	runningVRuntime int64
	hasRun          bool
}

func newCPU() *cpu {
	return &cpu{rtFIFO: newRTRunqueue(), rtRR: newRTRunqueue(), cfs: newCFSRunqueue(), batch: newCFSRunqueue()}
}

// load is the count of runnable tasks on this CPU, the metric Scheduler
// balances on.
func (c *cpu) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.cfs.len() + c.batch.len() + len(c.idle)
	for p := 1; p <= 99; p++ {
		n += len(c.rtFIFO.buckets[p]) + len(c.rtRR.buckets[p])
	}
	return n
}

// Scheduler holds every simulated CPU's run queues and the class
// priority order of spec.md §4.7.
type Scheduler struct {
	nice NiceLookup

	cpus     []*cpu
	affinity func(kernel.PID) kernel.Affinity
	classOf  func(kernel.PID) kernel.Class
	rtPrioOf func(kernel.PID) int
}

// New constructs a Scheduler with n simulated CPUs.
func New(n int, nice NiceLookup, affinity func(kernel.PID) kernel.Affinity, classOf func(kernel.PID) kernel.Class, rtPrioOf func(kernel.PID) int) *Scheduler {
	cpus := make([]*cpu, n)
	for i := range cpus {
		cpus[i] = newCPU()
	}
	return &Scheduler{nice: nice, cpus: cpus, affinity: affinity, classOf: classOf, rtPrioOf: rtPrioOf}
}

// NumCPUs reports the simulated CPU count.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// Enqueue places pid on cpuID's run queue for its current scheduling
// class, per spec.md §4.7's five classes.
func (s *Scheduler) Enqueue(cpuID int, pid kernel.PID) {
	c := s.cpus[cpuID]
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.classOf(pid) {
	case kernel.ClassRTFIFO:
		c.rtFIFO.push(pid, s.rtPrioOf(pid))
	case kernel.ClassRTRR:
		c.rtRR.push(pid, s.rtPrioOf(pid))
	case kernel.ClassCFS:
		c.cfs.insert(pid, s.wakeupVRuntime(c.cfs, pid))
	case kernel.ClassBatch:
		c.batch.insert(pid, s.wakeupVRuntime(c.batch, pid))
	case kernel.ClassIdle:
		c.idle = append(c.idle, pid)
	}
}

// wakeupVRuntime implements spec.md §4.7's "newly woken tasks receive
// vruntime = max(current_min_vruntime - WAKEUP_GRANULARITY, their saved
// vruntime)".
func (s *Scheduler) wakeupVRuntime(q *cfsRunqueue, pid kernel.PID) int64 {
	floor := q.minVRuntime() - WakeupGranularity.Nanoseconds()
	if e, ok := q.byPID[pid]; ok && e.vruntime > floor {
		return e.vruntime
	}
	return floor
}

// Dequeue removes pid from cpuID's run queues, e.g. when it blocks or
// exits.
func (s *Scheduler) Dequeue(cpuID int, pid kernel.PID) {
	c := s.cpus[cpuID]
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtFIFO.remove(pid)
	c.rtRR.remove(pid)
	c.cfs.remove(pid)
	c.batch.remove(pid)
	for i, id := range c.idle {
		if id == pid {
			c.idle = append(c.idle[:i], c.idle[i+1:]...)
			break
		}
	}
}

// Pick selects the next task to run on cpuID, honoring spec.md §4.7's
// strict class priority: RT-FIFO, then RT-RR, then CFS, then batch, then
// idle.
func (s *Scheduler) Pick(cpuID int) (kernel.PID, bool) {
	c := s.cpus[cpuID]
	c.mu.Lock()
	defer c.mu.Unlock()

	if pid, ok := c.rtFIFO.pop(); ok {
		c.running, c.hasRun = pid, true
		return pid, true
	}
	if pid, ok := c.rtRR.pop(); ok {
		c.running, c.hasRun = pid, true
		return pid, true
	}
	if e, ok := c.cfs.min(); ok {
		c.cfs.remove(e.pid)
		c.running, c.runningVRuntime, c.hasRun = e.pid, e.vruntime, true
		return e.pid, true
	}
	if e, ok := c.batch.min(); ok {
		c.batch.remove(e.pid)
		c.running, c.runningVRuntime, c.hasRun = e.pid, e.vruntime, true
		return e.pid, true
	}
	if len(c.idle) > 0 {
		pid := c.idle[0]
		c.idle = c.idle[1:]
		c.running, c.hasRun = pid, true
		return pid, true
	}
	c.hasRun = false
	return 0, false
}

// TimeSlice computes a CFS/batch task's run quantum: spec.md §4.7's
// "max(MIN_GRANULARITY, SCHED_LATENCY * task_weight / sum_weights)".
// Batch tasks get a quadrupled slice ("larger time slices") and are
// never considered for tick-based preemption (Tick skips them).
func (s *Scheduler) TimeSlice(cpuID int, pid kernel.PID, batch bool) time.Duration {
	c := s.cpus[cpuID]
	c.mu.Lock()
	q := c.cfs
	if batch {
		q = c.batch
	}
	total := q.totalWeight(s.nice)
	c.mu.Unlock()

	if total == 0 {
		total = Weight(s.nice(pid))
	}
	slice := time.Duration(int64(SchedLatency) * Weight(s.nice(pid)) / total)
	if slice < MinGranularity {
		slice = MinGranularity
	}
	if batch {
		slice *= 4
	}
	return slice
}

// Tick advances the running CFS task's vruntime by delta (scaled by its
// nice weight, per spec.md §4.7) and reports whether a higher- or
// equal-priority task now warrants preemption: a CFS task is preempted
// when its new vruntime exceeds the queue's minimum plus its computed
// time slice. RT and batch tasks are never preempted by the tick
// (RT by definition; batch is explicitly "skipped for preemption
// decisions").
func (s *Scheduler) Tick(cpuID int, delta time.Duration) (preempt bool) {
	c := s.cpus[cpuID]
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasRun || c.running == 0 {
		return false
	}
	if s.classOf(c.running) != kernel.ClassCFS {
		return false
	}

	scaled := ScaleDelta(delta.Nanoseconds(), s.nice(c.running))
	newVRuntime := c.runningVRuntime + scaled
	c.runningVRuntime = newVRuntime

	min, ok := c.cfs.min()
	if !ok {
		// No other CFS task is waiting; nothing to preempt into.
		return false
	}
	totalWeight := c.cfs.totalWeight(s.nice) + Weight(s.nice(c.running))
	slice := int64(SchedLatency) * Weight(s.nice(c.running)) / totalWeight
	if slice < MinGranularity.Nanoseconds() {
		slice = MinGranularity.Nanoseconds()
	}
	return newVRuntime-min.vruntime > slice
}

// LoadBalance implements spec.md §4.7: every BALANCE_INTERVAL, a CPU may
// pull one task from the busiest peer whose load exceeds its own by more
// than threshold, provided the task's affinity permits the destination.
// A fixed migrationCost (nanoseconds) is added to the pulled task's
// vruntime to discourage thrash.
func (s *Scheduler) LoadBalance(cpuID int, threshold int, migrationCost int64) (migrated kernel.PID, ok bool) {
	self := s.cpus[cpuID]
	busiest := -1
	busiestLoad := self.load() + threshold
	for i, c := range s.cpus {
		if i == cpuID {
			continue
		}
		if l := c.load(); l > busiestLoad {
			busiestLoad = l
			busiest = i
		}
	}
	if busiest < 0 {
		return 0, false
	}

	return s.stealCFSTask(cpuID, busiest, migrationCost)
}

// stealCFSTask moves the highest-vruntime (least urgent) CFS task whose
// affinity mask permits cpuID, from busiest's queue to cpuID's, per
// spec.md §4.7: "only tasks whose affinity mask permits the target CPU
// are eligible; migration cost is deducted from the pulled task's
// vruntime" — modeled here as an addition to the arriving task's
// vruntime, which has the same deterrent effect (it runs later).
func (s *Scheduler) stealCFSTask(cpuID, busiest int, migrationCost int64) (kernel.PID, bool) {
	peer := s.cpus[busiest]
	peer.mu.Lock()
	var candidate kernel.PID
	var candidateVRuntime int64
	found := false
	peer.cfs.tree.Descend(func(item btree.Item) bool {
		e := item.(cfsEntry)
		if s.affinity(e.pid)&(1<<uint(cpuID)) == 0 {
			return true
		}
		candidate, candidateVRuntime, found = e.pid, e.vruntime, true
		return false
	})
	if found {
		peer.cfs.remove(candidate)
	}
	peer.mu.Unlock()
	if !found {
		return 0, false
	}

	dest := s.cpus[cpuID]
	dest.mu.Lock()
	dest.cfs.insert(candidate, candidateVRuntime+migrationCost)
	dest.mu.Unlock()
	return candidate, true
}
