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
	"testing"
	"time"

	"github.com/kos-project/kos/pkg/kos/kclock"
)

func TestElevationExpiresAndIsAudited(t *testing.T) {
	sim := kclock.NewSim(time.Unix(0, 0))
	audit := NewAudit(16, "")
	m := NewManager(sim, audit, nil)

	const root, worker PID = 1, 2
	m.Register(root, NewSet(ROOT))
	m.Register(worker, NewSet())

	if m.Check(worker, NET) {
		t.Fatal("worker should not start with NET")
	}

	if err := m.Elevate(root, worker, NewSet(NET), 5*time.Second); err != nil {
		t.Fatalf("Elevate: %v", err)
	}
	if !m.Check(worker, NET) {
		t.Fatal("worker should hold NET after elevation")
	}

	sim.Advance(10 * time.Second)
	if m.Check(worker, NET) {
		t.Fatal("elevation should have expired")
	}

	events := audit.Recent()
	var sawSuccess bool
	for _, e := range events {
		if e.Kind == "ELEVATE_SUCCESS" && e.Subject == worker {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatalf("expected ELEVATE_SUCCESS in audit, got %v", events)
	}
}

func TestElevateDeniedWithoutRootOrSystem(t *testing.T) {
	sim := kclock.NewSim(time.Unix(0, 0))
	audit := NewAudit(16, "")
	m := NewManager(sim, audit, nil)

	const alice, bob PID = 1, 2
	m.Register(alice, NewSet(USR))
	m.Register(bob, NewSet())

	if err := m.Elevate(alice, bob, NewSet(NET), time.Second); err == nil {
		t.Fatal("expected PermissionDenied, got nil")
	}

	var sawDenied bool
	for _, e := range audit.Recent() {
		if e.Kind == "ELEVATE_DENIED" {
			sawDenied = true
		}
	}
	if !sawDenied {
		t.Fatal("expected ELEVATE_DENIED in audit")
	}
}

func TestAssignRoleRequiresRoot(t *testing.T) {
	sim := kclock.NewSim(time.Unix(0, 0))
	audit := NewAudit(16, "")
	roles := map[string]Set{"net-admin": NewSet(NET, DEV)}
	m := NewManager(sim, audit, roles)

	const root, user PID = 1, 2
	m.Register(root, NewSet(ROOT))
	m.Register(user, NewSet())

	if err := m.AssignRole(root, user, "net-admin"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if !m.Check(user, NET) || !m.Check(user, DEV) {
		t.Fatal("user should hold net-admin's flags")
	}

	if err := m.AssignRole(user, user, "net-admin"); err == nil {
		t.Fatal("non-root assigning a role should fail")
	}
}

func TestRootImpliesEveryFlag(t *testing.T) {
	s := NewSet(ROOT)
	for _, f := range []Flag{NET, DEV, FILE_W, DBG} {
		if !s.Has(f) {
			t.Fatalf("ROOT set should imply %v", f)
		}
	}
}
