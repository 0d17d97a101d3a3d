package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/google/uuid"
)

const rawSecretSize = 32

// NewTokenID returns a fresh opaque token identifier. Identifiers are UUIDv4
// strings; callers are expected to treat them as opaque and never reuse one
// after removal.
func NewTokenID() string {
	return uuid.NewString()
}

// NewSecret returns a new raw token secret: 32 random bytes, base64url encoded
// without padding. The caller hashes it with [HashSecret] before storing and
// hands the raw form to the client exactly once.
func NewSecret() (string, error) {
	var raw [rawSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashSecret digests a raw token secret with SHA-256 and returns the base64url
// encoding. Deterministic, one way, and side-effect free; the raw secret is not
// retained or logged.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// hashEqual compares two digests in constant time. Length is not secret here:
// stored digests all have the fixed HashSecret length.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
