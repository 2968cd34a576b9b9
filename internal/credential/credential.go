// Package credential models the access/refresh token pair and the store that
// persists it between daemon restarts.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the current access/refresh token pair. Values are immutable:
// a refresh produces a new Credential that replaces the old one wholesale.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is inferred from the access token's exp claim. Zero when the
	// token is opaque or carries no expiry.
	ExpiresAt time.Time
}

// New builds a Credential and infers its expiry from the access token.
func New(accessToken, refreshToken string) Credential {
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    ExpiryOf(accessToken),
	}
}

// Rotate returns the credential that replaces c after a refresh. The backend
// may omit the refresh token, in which case the current one is kept.
func (c Credential) Rotate(accessToken, refreshToken string) Credential {
	if refreshToken == "" {
		refreshToken = c.RefreshToken
	}
	return New(accessToken, refreshToken)
}

// Valid reports whether c has an access token at all.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// Expired reports whether the inferred expiry has passed. A credential with
// unknown expiry is never considered expired; the backend decides.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Fingerprint returns a short, non-reversible tag for the access token that is
// safe to log.
func (c Credential) Fingerprint() string {
	if c.AccessToken == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.AccessToken))
	return hex.EncodeToString(sum[:4])
}

// ExpiryOf reads the exp claim of a JWT without verifying its signature. The
// client never holds the signing key; the claim is only used for display and
// diagnostics. Returns zero for anything that is not a JWT with exp.
func ExpiryOf(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
