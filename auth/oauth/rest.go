package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
)

const authHTTPTimeout = 10 * time.Second
const authMaxConns = 4

// refreshResponse is the refresh endpoint's success body.
type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// loginResponse is the login endpoint's success body.
type loginResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user"`
}

// Client talks to the auth endpoints of the Scopewatch API. It runs on its
// own plain HTTP client: refreshing happens underneath the authenticated
// transport and must not recurse into it.
type Client struct {
	client *resty.Client
}

// NewClient returns a Client for the API rooted at baseURL.
func NewClient(baseURL string) *Client {
	client := resty.
		NewWithClient(&http.Client{
			Timeout: authHTTPTimeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     authMaxConns,
				MaxIdleConnsPerHost: authMaxConns,
			},
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBaseURL(baseURL)

	return &Client{client: client}
}

// Refresh implements Refresher. The request carries the refresh token as its
// bearer credential and no body; anything but a 2xx with an access_token in
// the response is a refresh failure.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var result refreshResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(refreshToken).
		SetResult(&result).
		Post("/auth/refresh")

	if err != nil {
		return "", trace.Wrap(err)
	}
	if !resp.IsSuccess() {
		return "", trace.Errorf("refresh endpoint returned %v", resp.Status())
	}
	if result.AccessToken == "" {
		return "", trace.BadParameter("refresh response carries no access_token")
	}

	return result.AccessToken, nil
}

// Exchange implements Exchanger.
func (c *Client) Exchange(ctx context.Context, req LoginRequest) (*Credentials, error) {
	var result loginResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/auth/login")

	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !resp.IsSuccess() {
		return nil, trace.AccessDenied("login failed: %v", resp.Status())
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		return nil, trace.BadParameter("login response carries an incomplete token pair")
	}

	return &Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	}, nil
}

var _ Authorizer = &Client{}
