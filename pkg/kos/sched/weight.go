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

// niceToWeight is the same nice(-20..19) -> weight table Linux's CFS
// uses (sched_prio_to_weight), satisfying spec.md §4.7's "weight(0) =
// 1024, weight(19) ~= weight(0)/80, weight(-20) ~= weight(0)*80": index 0
// is nice -20, index 39 is nice 19.
var niceToWeight = [40]int64{
	88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

// Weight returns the CFS scheduling weight for nice, clamped to -20..19.
func Weight(nice int) int64 {
	if nice < -20 {
		nice = -20
	}
	if nice > 19 {
		nice = 19
	}
	return niceToWeight[nice+20]
}

// baseWeight is weight(nice=0), the divisor in spec.md §4.7's vruntime
// update: "vruntime += delta * weight(nice=0) / weight(task.nice)".
const baseWeight = 1024

// ScaleDelta converts a wall-clock tick delta into the vruntime increment
// for a task of the given nice value.
func ScaleDelta(deltaNanos int64, nice int) int64 {
	return deltaNanos * baseWeight / Weight(nice)
}
