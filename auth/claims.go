package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// RefreshBuffer is how long before its expiry an access token is considered
// due for a refresh.
const RefreshBuffer = 5 * time.Minute

// Claims is the decoded view of an access token payload. Only the expiry
// claim is read; whatever else the server puts in the token is ignored.
type Claims struct {
	ExpiresAt time.Time
}

// DecodeClaims extracts the expiry claim from an access token without
// verifying its signature. Authenticity is the server's concern: it
// re-validates the token on every call, the client only schedules refreshes
// off the self-declared expiry.
func DecodeClaims(accessToken string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return nil, trace.Wrap(ErrMalformedToken, "parsing access token: %v", err)
	}
	if claims.ExpiresAt == nil {
		return nil, trace.Wrap(ErrMalformedToken, "access token carries no expiry claim")
	}
	return &Claims{ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Inspector answers validity and refresh-due questions about access tokens.
// It is purely computational: no storage, no network.
type Inspector struct {
	clock  clockwork.Clock
	buffer time.Duration
}

// NewInspector creates an Inspector with the given clock and refresh buffer.
// A nil clock means the wall clock, a non-positive buffer means
// RefreshBuffer.
func NewInspector(clock clockwork.Clock, buffer time.Duration) *Inspector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if buffer <= 0 {
		buffer = RefreshBuffer
	}
	return &Inspector{clock: clock, buffer: buffer}
}

// IsValid reports whether the token decodes and has not expired yet.
func (i *Inspector) IsValid(accessToken string) bool {
	claims, err := DecodeClaims(accessToken)
	if err != nil {
		return false
	}
	return claims.ExpiresAt.After(i.clock.Now())
}

// NeedsRefresh reports whether the token should be refreshed now: it fails to
// decode, or it expires within the buffer. An empty token needs a refresh by
// definition; whether one is even possible is decided by the refresh itself,
// which fails fast when there is no refresh token.
func (i *Inspector) NeedsRefresh(accessToken string) bool {
	claims, err := DecodeClaims(accessToken)
	if err != nil {
		return true
	}
	return claims.ExpiresAt.Sub(i.clock.Now()) <= i.buffer
}
