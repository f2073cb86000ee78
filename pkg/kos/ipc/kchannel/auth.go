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

package kchannel

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/kos-project/kos/pkg/kos/kerr"
)

// ChallengeSize is spec.md §6's "challenge (32 random bytes)".
const ChallengeSize = 32

// Challenge is the random value a server hands a connecting client to
// bind its response to this one handshake.
type Challenge [ChallengeSize]byte

// NewChallenge draws a fresh random challenge.
func NewChallenge() (Challenge, error) {
	var c Challenge
	if _, err := rand.Read(c[:]); err != nil {
		return Challenge{}, kerr.Wrap(kerr.Unknown, "kchannel.NewChallenge", err)
	}
	return c, nil
}

// AuthRequest is the client's opening handshake message, per spec.md
// §6: "(entity_type, entity_id, fingerprint)". Non-goals explicitly
// exclude cryptographic strength beyond hashed fingerprints, so
// Fingerprint is an opaque identity-binding value, not a public key.
type AuthRequest struct {
	EntityType  string
	EntityID    string
	Fingerprint []byte
}

// Sign computes the response a client sends back after receiving c:
// SHA-256(challenge ∥ fingerprint), per spec.md §6.
func Sign(c Challenge, fingerprint []byte) []byte {
	h := sha256.New()
	h.Write(c[:])
	h.Write(fingerprint)
	return h.Sum(nil)
}

// Verify reports whether response is the expected Sign(c, fingerprint)
// for the fingerprint FingerprintVerifier returned for this entity,
// using a constant-time comparison so handshake verification doesn't
// leak timing information about the stored fingerprint.
func Verify(c Challenge, fingerprint, response []byte) bool {
	expected := Sign(c, fingerprint)
	return subtle.ConstantTimeCompare(expected, response) == 1
}

// FingerprintVerifier resolves an entity's registered fingerprint, the
// binding a Server checks the handshake response against. It is
// injected rather than owned by this package so kchannel never depends
// on wherever identities are actually stored (SPEC_FULL §3.6's identity
// store lives in pkg/kos/identity).
type FingerprintVerifier func(entityType, entityID string) (fingerprint []byte, ok bool)
