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

	"github.com/google/go-cmp/cmp"

	"github.com/kos-project/kos/pkg/kos/kclock"
)

const testPolicyYAML = `
net-admin:
  - NET
  - DEV
auditor:
  - AUD
  - LOG
`

func TestParsePolicy(t *testing.T) {
	roles, err := ParsePolicy([]byte(testPolicyYAML))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	if !roles["net-admin"].Has(NET) || !roles["net-admin"].Has(DEV) {
		t.Fatalf("net-admin role missing expected flags: %v", roles["net-admin"].Flags())
	}
	if !roles["auditor"].Has(AUD) {
		t.Fatalf("auditor role missing AUD: %v", roles["auditor"].Flags())
	}

	want := map[string]Set{
		"net-admin": NewSet(NET, DEV),
		"auditor":   NewSet(AUD, LOG),
	}
	if diff := cmp.Diff(want, roles); diff != "" {
		t.Fatalf("ParsePolicy roles mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePolicyRejectsUnknownFlag(t *testing.T) {
	_, err := ParsePolicy([]byte("bogus:\n  - NOT_A_FLAG\n"))
	if err == nil {
		t.Fatal("expected error for unknown flag name")
	}
}

func TestReloadPolicyAppliesPatch(t *testing.T) {
	sim := kclock.NewSim(time.Unix(0, 0))
	audit := NewAudit(16, "")
	roles, err := ParsePolicy([]byte(testPolicyYAML))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	m := NewManager(sim, audit, roles)

	patch := []byte(`[{"op":"add","path":"/net-admin/2","value":"MEM"}]`)
	if err := m.ReloadPolicy(0, patch); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}
	if !m.Roles()["net-admin"].Has(MEM) {
		t.Fatal("expected net-admin to gain MEM after patch")
	}
}

func TestReloadPolicyRejectsMalformedPatch(t *testing.T) {
	sim := kclock.NewSim(time.Unix(0, 0))
	audit := NewAudit(16, "")
	m := NewManager(sim, audit, map[string]Set{"auditor": NewSet(AUD)})

	if err := m.ReloadPolicy(0, []byte("not json")); err == nil {
		t.Fatal("expected error for malformed patch")
	}
	var sawRejected bool
	for _, e := range audit.Recent() {
		if e.Kind == "POLICY_RELOAD_REJECTED" {
			sawRejected = true
		}
	}
	if !sawRejected {
		t.Fatal("expected POLICY_RELOAD_REJECTED in audit")
	}
}
