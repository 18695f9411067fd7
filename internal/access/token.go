package access

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const secretBytes = 32

// NewSecret draws a single-use invitation secret from the CSPRNG and
// encodes it as hex. An entropy failure aborts the enclosing operation;
// there is no weaker fallback.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Digest returns the SHA-256 hex digest of a secret. Only digests are
// persisted; the plaintext secret leaves the process exactly once, in
// the invite-creation response.
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
