package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentRevision returns a short deterministic revision for file content.
// Identifiers carry it so stale targets can be detected.
func ContentRevision(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])[:12]
}
