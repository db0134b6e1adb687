package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"sapar/internal/types"
)

// tokenClaims is the payload of a bearer token issued by the identity
// service. The billing API only verifies and reads it; issuance happens
// elsewhere.
type tokenClaims struct {
	UserID    string `json:"uid"`
	ClubID    string `json:"club,omitempty"`
	IsAdmin   bool   `json:"adm,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// TokenAuthenticator verifies stateless bearer tokens of the form
// base64url(claims) "." base64url(hmac-sha256(claims)). The signing secret is
// shared with the identity service that issues the tokens.
type TokenAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewTokenAuthenticator creates an authenticator for the given shared secret.
func NewTokenAuthenticator(secret string) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret), now: time.Now}
}

// Authenticate validates the token and returns the actor it identifies.
func (a *TokenAuthenticator) Authenticate(token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "bearer token is required", nil)
	}

	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed token", nil)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed token payload", err)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed token signature", err)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payloadBytes)
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token signature mismatch", nil)
	}

	var claims tokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed token claims", err)
	}
	if claims.UserID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	if claims.ExpiresAt > 0 && a.now().Unix() > claims.ExpiresAt {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has expired", nil)
	}

	actorType := types.ActorTypeUser
	if claims.IsAdmin {
		actorType = types.ActorTypeAdmin
	}
	return &types.Actor{ID: claims.UserID, Type: actorType, ClubID: claims.ClubID}, nil
}

// SignToken builds a token for the given claims. Exported for integration
// tests and local tooling; the production issuer is the identity service.
func SignToken(secret []byte, userID, clubID string, isAdmin bool, expiresAt time.Time) (string, error) {
	payloadBytes, err := json.Marshal(tokenClaims{
		UserID:    userID,
		ClubID:    clubID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payloadBytes)
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
