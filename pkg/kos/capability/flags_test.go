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

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseFlagRoundTrip(t *testing.T) {
	for name := range nameToFlag {
		f, ok := ParseFlag(name)
		if !ok {
			t.Fatalf("ParseFlag(%q) failed", name)
		}
		if f.String() != name {
			t.Fatalf("f.String() = %q, want %q", f.String(), name)
		}
	}
}

func TestParseFlagUnknown(t *testing.T) {
	if _, ok := ParseFlag("NOT_REAL"); ok {
		t.Fatal("ParseFlag should fail for an unknown name")
	}
}

func TestSetWithWithoutUnion(t *testing.T) {
	s := NewSet(NET)
	s = s.With(DEV)
	if !s.Has(NET) || !s.Has(DEV) {
		t.Fatalf("s = %v, want NET and DEV", s.Flags())
	}
	s = s.Without(NET)
	if s.Has(NET) {
		t.Fatal("Without(NET) should remove NET")
	}
	union := NewSet(NET).Union(NewSet(DEV))
	if !union.Has(NET) || !union.Has(DEV) {
		t.Fatalf("union = %v, want NET and DEV", union.Flags())
	}
}

func TestSetFlagsStructuralDiff(t *testing.T) {
	s := NewSet(NET, DEV, MEM)
	want := []Flag{NET, DEV, MEM}
	less := func(a, b Flag) bool { return a < b }
	if diff := cmp.Diff(want, s.Flags(), cmpopts.SortSlices(less)); diff != "" {
		t.Fatalf("Flags() mismatch (-want +got):\n%s", diff)
	}
}

func TestFlagUnknownString(t *testing.T) {
	var f Flag = 1 << 30
	if f.String() != "UNKNOWN" {
		t.Fatalf("String() = %q, want UNKNOWN", f.String())
	}
}
