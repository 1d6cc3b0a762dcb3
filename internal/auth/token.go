// Package auth inspects the account token before it is presented to the
// server. The client never verifies signatures; it only decodes claims to
// surface expiry problems at startup instead of as opaque 401s later.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrOpaqueToken indicates the token is not a JWT. Opaque tokens are
// accepted as-is; callers skip the expiry check.
var ErrOpaqueToken = errors.New("auth: token is not a JWT")

// TokenInfo holds the claims a client cares about.
type TokenInfo struct {
	// Subject is the account identifier (the "sub" claim).
	Subject string

	// Username is the optional "username" claim.
	Username string

	// ExpiresAt is the expiry instant, or the zero time when the token
	// carries no "exp" claim.
	ExpiresAt time.Time
}

// Inspect decodes the token's claims without verifying the signature.
// Verification is the server's job; the client only reads.
func Inspect(token string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}

	info := &TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if username, ok := claims["username"].(string); ok {
		info.Username = username
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// Expired reports whether the token was expired at the given instant.
// Tokens without an expiry never expire.
func (ti *TokenInfo) Expired(now time.Time) bool {
	return !ti.ExpiresAt.IsZero() && !now.Before(ti.ExpiresAt)
}

// ExpiresWithin reports whether the token expires inside the given window.
func (ti *TokenInfo) ExpiresWithin(now time.Time, window time.Duration) bool {
	if ti.ExpiresAt.IsZero() {
		return false
	}
	return ti.ExpiresAt.Before(now.Add(window))
}
