// Package checksum computes content digests used for optimistic locking and
// history dedup.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Match reports whether data hashes to want. An empty want never matches.
func Match(data []byte, want string) bool {
	return want != "" && Sum(data) == want
}
