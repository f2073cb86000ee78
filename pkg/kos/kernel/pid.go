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

// Package kernel implements the simulated process/thread table of
// spec.md §3/§4.7: the Process Control Block, its parent/child tree,
// signal delivery, and the spawn/exit/reap lifecycle.
package kernel

import "github.com/kos-project/kos/pkg/kos/capability"

// PID identifies a simulated process. It is the single pid space shared
// by the process table, the scheduler, and the Permission Manager;
// ToCapabilityPID binds it to capability.PID, which is declared
// independently there to avoid an import cycle.
type PID int32

// ToCapabilityPID converts a kernel PID to the type capability.Manager
// keys its entries by.
func ToCapabilityPID(pid PID) capability.PID { return capability.PID(pid) }
