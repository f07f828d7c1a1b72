package auth

import (
	"errors"
)

// ErrNoRefreshToken means a refresh was requested with no refresh token in
// the store. No network call is made in that case.
var ErrNoRefreshToken = errors.New("no refresh token")

// ErrMalformedToken means the access token could not be decoded.
var ErrMalformedToken = errors.New("malformed access token")

// IsNoRefreshToken reports whether err came from a refresh attempt that found
// no refresh token to work with.
func IsNoRefreshToken(err error) bool {
	return errors.Is(err, ErrNoRefreshToken)
}

// IsMalformedToken reports whether err came from decoding a broken access
// token.
func IsMalformedToken(err error) bool {
	return errors.Is(err, ErrMalformedToken)
}
