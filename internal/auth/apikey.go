// Package auth implements request authentication for the Sapar billing API:
// bearer tokens for user traffic and a bcrypt-verified admin key for the
// operator surface.
package auth

import (
	"golang.org/x/crypto/bcrypt"

	"sapar/internal/types"
)

// AdminKeyVerifier checks the X-Admin-Key header value against a bcrypt hash
// loaded from configuration. Only the hash is ever present in the process
// environment; the plaintext key lives with the operators.
type AdminKeyVerifier struct {
	hash []byte
}

// NewAdminKeyVerifier creates a verifier for the given bcrypt hash.
func NewAdminKeyVerifier(hash string) *AdminKeyVerifier {
	return &AdminKeyVerifier{hash: []byte(hash)}
}

// Verify compares the presented key against the configured hash.
// bcrypt comparison is constant time with respect to the key contents.
func (v *AdminKeyVerifier) Verify(key string) error {
	if key == "" {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "admin key is required", nil)
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return types.NewAppError(types.ErrCodeAuthAdminKeyInvalid, "admin key is invalid", err)
	}
	return nil
}
