package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint derives a stable hex digest from the given parts. Callers must
// pass fields in a fixed order so the same remote state always hashes the
// same way.
func Fingerprint(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", hash[:16])
}
