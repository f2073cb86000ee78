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

package identity_test

import (
	"path/filepath"
	"testing"

	"github.com/kos-project/kos/pkg/kos/identity"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := identity.Load(filepath.Join(t.TempDir(), "shadow"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Fingerprint("root"); ok {
		t.Fatal("expected no fingerprint in an empty store")
	}
}

func TestCreateVerifyFingerprintRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadow")
	s, err := identity.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := s.Create("alice", "correct-horse", 0, 90, 7, 30, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !s.Verify("alice", "correct-horse") {
		t.Fatal("Verify rejected the correct password")
	}
	if s.Verify("alice", "wrong-password") {
		t.Fatal("Verify accepted an incorrect password")
	}

	fp, ok := s.Fingerprint("alice")
	if !ok || len(fp) == 0 {
		t.Fatal("expected a non-empty fingerprint for a provisioned user")
	}

	reloaded, err := identity.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	reloadedFP, ok := reloaded.Fingerprint("alice")
	if !ok {
		t.Fatal("fingerprint did not survive reload from disk")
	}
	if string(reloadedFP) != string(fp) {
		t.Fatal("reloaded fingerprint does not match the one just created")
	}
}

func TestFingerprintUnknownUser(t *testing.T) {
	s, err := identity.Load(filepath.Join(t.TempDir(), "shadow"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Fingerprint("nobody"); ok {
		t.Fatal("expected no fingerprint for an unprovisioned user")
	}
}
