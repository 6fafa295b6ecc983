package fsx

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns a stable hex digest of data, the change-detection
// fingerprint the sync service compares against the index's stored hash
// (spec.md §4.6).
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
