package storage

import (
	"github.com/gravitational/trace"
)

// Well-known keys of the persisted session state. Values are stored verbatim:
// tokens as opaque strings, the user record as raw JSON.
const (
	// AccessTokenKey holds the short-lived bearer token attached to API calls.
	AccessTokenKey = "authToken"

	// RefreshTokenKey holds the long-lived token exchanged for new access tokens.
	RefreshTokenKey = "refreshToken"

	// UserKey holds the JSON record of the signed-in user.
	UserKey = "user"

	// DeviceIDKey holds the per-install identifier. Unlike the session keys it
	// survives logout.
	DeviceIDKey = "deviceId"
)

// SessionKeys are the keys removed when the session ends.
var SessionKeys = []string{AccessTokenKey, RefreshTokenKey, UserKey}

// Store persists session state as a flat key-value map.
//
// Get returns a trace.NotFound error when the key is absent. Callers that only
// care whether a value is present treat any error as absent, so a store that
// cannot be read leaves the application unauthenticated rather than broken.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Remove(key string) error
}

// ClearSession removes every session key from the store. All removals are
// attempted even if some of them fail.
func ClearSession(store Store) error {
	var errors []error
	for _, key := range SessionKeys {
		if err := store.Remove(key); err != nil {
			errors = append(errors, err)
		}
	}
	return trace.NewAggregate(errors...)
}
