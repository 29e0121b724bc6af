// Package auth handles API token hashing and comparison.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// TokenMatches reports whether presented hashes to expectedHash. The
// comparison runs in constant time.
func TokenMatches(presented, expectedHash string) bool {
	if expectedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(expectedHash)) == 1
}
