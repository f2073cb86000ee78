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

package capability

import (
	"sync"
	"time"

	"github.com/kos-project/kos/pkg/kos/kclock"
	"github.com/kos-project/kos/pkg/kos/kerr"
)

// PID identifies a process to the Permission Manager. It is deliberately
// not kernel.PID to avoid an import cycle; kernel binds the two together.
type PID int32

type elevation struct {
	flags  Set
	expiry time.Time
}

type entry struct {
	permanent Set
	elevated  elevation
}

// Manager holds per-pid permanent and elevated capability sets, the
// RBAC role table, and the audit ring, per spec.md §4.4.
type Manager struct {
	clock kclock.Clock
	audit *Audit

	mu      sync.RWMutex
	entries map[PID]*entry
	roles   map[string]Set
}

// NewManager constructs an empty Manager. roles seeds the RBAC role
// table; it may be nil (roles can be added later via ReloadPolicy).
func NewManager(clock kclock.Clock, audit *Audit, roles map[string]Set) *Manager {
	if roles == nil {
		roles = make(map[string]Set)
	}
	return &Manager{
		clock:   clock,
		audit:   audit,
		entries: make(map[PID]*entry),
		roles:   roles,
	}
}

// Register adds pid to the Manager with the given initial permanent set.
// It is idempotent with respect to wiping any existing elevation.
func (m *Manager) Register(pid PID, permanent Set) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pid] = &entry{permanent: permanent}
}

// Unregister removes pid's bookkeeping once its PCB is reaped.
func (m *Manager) Unregister(pid PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, pid)
}

func (m *Manager) effective(e *entry, now time.Time) Set {
	if e.elevated.flags != 0 && now.Before(e.elevated.expiry) {
		return e.permanent.Union(e.elevated.flags)
	}
	return e.permanent
}

// Check reports whether pid currently holds flag, either permanently or
// via an unexpired elevation. ROOT implies every flag.
func (m *Manager) Check(pid PID, flag Flag) bool {
	m.mu.RLock()
	e, ok := m.entries[pid]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.effective(e, m.clock.Now()).Has(flag)
}

// Elevate grants target an additional, time-limited set of flags.
// requester must itself hold ROOT or SYSTEM. Success and denial are both
// audited.
func (m *Manager) Elevate(requester, target PID, flags Set, duration time.Duration) error {
	m.mu.Lock()
	reqEntry, ok := m.entries[requester]
	if !ok {
		m.mu.Unlock()
		return kerr.New(kerr.PermissionDenied, "capability.Elevate", "unknown requester")
	}
	now := m.clock.Now()
	if !m.effective(reqEntry, now).Has(ROOT) && !m.effective(reqEntry, now).Has(SYSTEM) {
		m.mu.Unlock()
		m.audit.Append(Event{Kind: "ELEVATE_DENIED", Actor: requester, Subject: target, Time: now})
		return kerr.New(kerr.PermissionDenied, "capability.Elevate", "requester lacks ROOT or SYSTEM")
	}
	tgtEntry, ok := m.entries[target]
	if !ok {
		m.mu.Unlock()
		return kerr.New(kerr.NotFound, "capability.Elevate", "unknown target")
	}
	tgtEntry.elevated = elevation{flags: flags, expiry: now.Add(duration)}
	m.mu.Unlock()
	m.audit.Append(Event{Kind: "ELEVATE_SUCCESS", Actor: requester, Subject: target, Time: now, Detail: flags.Flags()})
	return nil
}

// Drop removes flag from pid's own permanent set, or — if requester !=
// pid — requires requester to hold ROOT.
func (m *Manager) Drop(requester, pid PID, flag Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if requester != pid {
		reqEntry, ok := m.entries[requester]
		if !ok || !m.effective(reqEntry, m.clock.Now()).Has(ROOT) {
			return kerr.New(kerr.PermissionDenied, "capability.Drop", "only ROOT may drop another pid's flags")
		}
	}
	e, ok := m.entries[pid]
	if !ok {
		return kerr.New(kerr.NotFound, "capability.Drop", "unknown pid")
	}
	e.permanent = e.permanent.Without(flag)
	return nil
}

// AssignRole replaces pid's permanent set with the named role's flag set.
// requester must hold ROOT.
func (m *Manager) AssignRole(requester, pid PID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqEntry, ok := m.entries[requester]
	if !ok || !m.effective(reqEntry, m.clock.Now()).Has(ROOT) {
		return kerr.New(kerr.PermissionDenied, "capability.AssignRole", "requester lacks ROOT")
	}
	flags, ok := m.roles[role]
	if !ok {
		return kerr.New(kerr.NotFound, "capability.AssignRole", "unknown role "+role)
	}
	e, ok := m.entries[pid]
	if !ok {
		return kerr.New(kerr.NotFound, "capability.AssignRole", "unknown pid")
	}
	e.permanent = flags
	m.audit.Append(Event{Kind: "ASSIGN_ROLE", Actor: requester, Subject: pid, Time: m.clock.Now(), Detail: role})
	return nil
}

// PermanentSet returns pid's permanent (non-elevated) flag set, for
// inheritance across process spawn.
func (m *Manager) PermanentSet(pid PID) Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[pid]
	if !ok {
		return 0
	}
	return e.permanent
}

// Roles returns a copy of the current role table, for policy inspection.
func (m *Manager) Roles() map[string]Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Set, len(m.roles))
	for k, v := range m.roles {
		out[k] = v
	}
	return out
}
