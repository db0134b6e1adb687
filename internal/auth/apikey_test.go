package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sapar/internal/types"
)

func TestAdminKeyVerifier_Verify(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("super-secret-admin-key"), bcrypt.MinCost)
	require.NoError(t, err)
	v := NewAdminKeyVerifier(string(hash))

	require.NoError(t, v.Verify("super-secret-admin-key"))
}

func TestAdminKeyVerifier_WrongKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("super-secret-admin-key"), bcrypt.MinCost)
	require.NoError(t, err)
	v := NewAdminKeyVerifier(string(hash))

	err = v.Verify("guessed-key")
	assertAuthCode(t, err, types.ErrCodeAuthAdminKeyInvalid)
}

func TestAdminKeyVerifier_EmptyKey(t *testing.T) {
	v := NewAdminKeyVerifier("$2a$10$notevenchecked")

	err := v.Verify("")
	assertAuthCode(t, err, types.ErrCodeAuthTokenMissing)
}
