package auth

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
)

const apiHTTPTimeout = 30 * time.Second
const apiMaxConns = 16

// respReadLimit bounds how much of a discarded response body is drained to
// keep the connection reusable.
const respReadLimit = 4 * 1024

// CredentialSource supplies access tokens to the transport.
type CredentialSource interface {
	// ValidAccessToken returns a token fit to attach to a request, refreshing
	// the stored one first if it is stale or about to become stale.
	ValidAccessToken(ctx context.Context) (string, error)
	// EnsureFresh acquires a new token after the attached one was rejected.
	EnsureFresh(ctx context.Context) (string, error)
}

// Transport is an http.RoundTripper that attaches the session's bearer token
// to every outgoing request. A request that still bounces with a 401 is
// retried exactly once after a coordinated refresh; if that refresh fails,
// the caller sees the refresh failure rather than the bare 401.
type Transport struct {
	// Source supplies the tokens.
	Source CredentialSource
	// Base is the underlying transport. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Source.ValidAccessToken(req.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp, err := t.base().RoundTrip(requestWithToken(req, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The token passed the local checks but the server rejected it anyway:
	// revoked, or expired in flight. A request whose body cannot be rebuilt
	// cannot be replayed; hand the 401 back as is.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	freshToken, err := t.Source.EnsureFresh(req.Context())
	if err != nil {
		drainBody(resp)
		return nil, trace.Wrap(err)
	}

	retry := requestWithToken(req, freshToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	drainBody(resp)
	// Whatever comes back now is the final answer; a second 401 is not
	// retried again.
	return t.base().RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// requestWithToken clones req with the bearer token attached, leaving the
// caller's request untouched.
func requestWithToken(req *http.Request, token string) *http.Request {
	attempt := req.Clone(req.Context())
	attempt.Header.Set("Authorization", "Bearer "+token)
	return attempt
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, respReadLimit))
	resp.Body.Close()
}

// NewHTTPClient returns a resty client for the API rooted at baseURL whose
// every request carries a fresh bearer token from source.
func NewHTTPClient(source CredentialSource, baseURL string) *resty.Client {
	return resty.
		NewWithClient(&http.Client{
			Timeout: apiHTTPTimeout,
			Transport: &Transport{
				Source: source,
				Base: &http.Transport{
					MaxConnsPerHost:     apiMaxConns,
					MaxIdleConnsPerHost: apiMaxConns,
				},
			},
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBaseURL(baseURL)
}
