package vault

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ComputeIntegrityHash returns the lowercase hex SHA-256 of the payload.
func ComputeIntegrityHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity compares the payload against a stored hash. An empty stored
// hash (files written before hashes existed) passes.
func VerifyIntegrity(payload []byte, stored string) error {
	if stored == "" {
		return nil
	}
	got := ComputeIntegrityHash(payload)
	if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(stored))) != 1 {
		return ErrIntegrityMismatch
	}
	return nil
}
