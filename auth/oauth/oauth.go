package oauth

import (
	"context"
	"encoding/json"
)

// Credentials is what the auth service hands out on a successful login: the
// token pair and the record of the user it belongs to.
type Credentials struct {
	// AccessToken is the short-lived bearer token attached to API calls.
	AccessToken string
	// RefreshToken is exchanged for new access tokens when the current one
	// nears expiry.
	RefreshToken string
	// User is the user record exactly as the server returned it. The client
	// caches it without looking inside.
	User json.RawMessage
}

// LoginRequest is the login endpoint's payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

type Authorizer interface {
	Exchanger
	Refresher
}

type Exchanger interface {
	Exchange(ctx context.Context, req LoginRequest) (*Credentials, error)
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}
