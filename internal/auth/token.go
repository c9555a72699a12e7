// Package auth verifies the operator bearer token of the admin API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashToken returns the hex SHA-256 digest of a trimmed token.
func HashToken(token string) string {
	token = strings.TrimSpace(token)

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Verifier checks presented tokens against a configured one without keeping it in plain text.
type Verifier struct {
	digest [sha256.Size]byte
	empty  bool
}

// NewVerifier creates a verifier for token. An empty token matches nothing.
func NewVerifier(token string) *Verifier {
	token = strings.TrimSpace(token)
	return &Verifier{digest: sha256.Sum256([]byte(token)), empty: token == ""}
}

// Enabled reports whether a token is configured.
func (v *Verifier) Enabled() bool {
	return !v.empty
}

// Match compares digests in constant time, so the comparison does not leak the token length.
func (v *Verifier) Match(presented string) bool {
	if v.empty {
		return false
	}
	got := sha256.Sum256([]byte(strings.TrimSpace(presented)))
	return subtle.ConstantTimeCompare(got[:], v.digest[:]) == 1
}
