package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mu         sync.Mutex
	validToken string
	validErr   error
	freshToken string
	freshErr   error
	freshCalls int
}

// ValidAccessToken implements CredentialSource
func (s *mockSource) ValidAccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validErr != nil {
		return "", s.validErr
	}
	return s.validToken, nil
}

// EnsureFresh implements CredentialSource
func (s *mockSource) EnsureFresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshCalls++
	if s.freshErr != nil {
		return "", s.freshErr
	}
	s.validToken = s.freshToken
	return s.freshToken, nil
}

func (s *mockSource) refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freshCalls
}

type observedRequest struct {
	authorization string
	body          string
}

// fakeAPI accepts requests carrying one specific bearer token and rejects
// everything else with a 401.
type fakeAPI struct {
	srv      *httptest.Server
	accepted string
	observed chan observedRequest
}

func newFakeAPI(t *testing.T, acceptedToken string) *fakeAPI {
	t.Helper()

	api := &fakeAPI{
		accepted: acceptedToken,
		observed: make(chan observedRequest, 8),
	}

	router := httprouter.New()
	router.POST("/profiles", api.handleCreateProfile)
	router.GET("/status", api.handleStatus)

	api.srv = httptest.NewServer(router)
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) handleCreateProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	auth := r.Header.Get("Authorization")
	a.observed <- observedRequest{authorization: auth, body: string(body)}

	if auth != "Bearer "+a.accepted {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"id":"profile-1"}`))
}

func (a *fakeAPI) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	a.observed <- observedRequest{authorization: r.Header.Get("Authorization")}

	if r.Header.Get("Authorization") != "Bearer "+a.accepted {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func TestTransport(t *testing.T) {
	t.Run("AttachesToken", func(t *testing.T) {
		api := newFakeAPI(t, "access-1")
		source := &mockSource{validToken: "access-1"}
		client := &http.Client{Transport: &Transport{Source: source}}

		resp, err := client.Post(api.srv.URL+"/profiles", "application/json", strings.NewReader(`{"name":"acme"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		seen := <-api.observed
		require.Equal(t, "Bearer access-1", seen.authorization)
		require.Equal(t, `{"name":"acme"}`, seen.body)
		require.Zero(t, source.refreshes())
	})

	t.Run("RetriesOnceAfterRefresh", func(t *testing.T) {
		api := newFakeAPI(t, "access-2")
		source := &mockSource{validToken: "access-1", freshToken: "access-2"}
		client := &http.Client{Transport: &Transport{Source: source}}

		resp, err := client.Post(api.srv.URL+"/profiles", "application/json", strings.NewReader(`{"name":"acme"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Equal(t, 1, source.refreshes())

		// Rejected attempt, then the same body replayed with the new token.
		first := <-api.observed
		require.Equal(t, "Bearer access-1", first.authorization)
		require.Equal(t, `{"name":"acme"}`, first.body)

		second := <-api.observed
		require.Equal(t, "Bearer access-2", second.authorization)
		require.Equal(t, `{"name":"acme"}`, second.body)
	})

	t.Run("RefreshFailurePropagates", func(t *testing.T) {
		api := newFakeAPI(t, "access-2")
		source := &mockSource{
			validToken: "access-1",
			freshErr:   trace.Wrap(ErrNoRefreshToken),
		}
		client := &http.Client{Transport: &Transport{Source: source}}

		resp, err := client.Post(api.srv.URL+"/profiles", "application/json", strings.NewReader(`{}`))
		// The caller learns why the session ended, not just that a 401
		// happened.
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNoRefreshToken)
		require.Nil(t, resp)
		require.Equal(t, 1, source.refreshes())
	})

	t.Run("SecondRejectionIsFinal", func(t *testing.T) {
		api := newFakeAPI(t, "access-3")
		source := &mockSource{validToken: "access-1", freshToken: "access-2"}
		client := &http.Client{Transport: &Transport{Source: source}}

		resp, err := client.Post(api.srv.URL+"/profiles", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		// Exactly one refresh: the retried request is not retried again.
		require.Equal(t, 1, source.refreshes())
	})

	t.Run("UnreplayableBody", func(t *testing.T) {
		api := newFakeAPI(t, "access-2")
		source := &mockSource{validToken: "access-1", freshToken: "access-2"}
		client := &http.Client{Transport: &Transport{Source: source}}

		// Wrapping the reader hides its type, so the request has a body but
		// no way to rebuild it.
		req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/profiles", struct{ io.Reader }{strings.NewReader(`{}`)})
		require.NoError(t, err)
		require.Nil(t, req.GetBody)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Zero(t, source.refreshes())
	})

	t.Run("AttachFailurePropagates", func(t *testing.T) {
		api := newFakeAPI(t, "access-1")
		source := &mockSource{validErr: trace.Wrap(ErrNoRefreshToken)}
		client := &http.Client{Transport: &Transport{Source: source}}

		resp, err := client.Get(api.srv.URL + "/status")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNoRefreshToken)
		require.Nil(t, resp)
		require.Empty(t, api.observed)
	})
}

func TestNewHTTPClient(t *testing.T) {
	api := newFakeAPI(t, "access-1")
	source := &mockSource{validToken: "access-1"}

	var status struct {
		Status string `json:"status"`
	}
	resp, err := NewHTTPClient(source, api.srv.URL).R().
		SetResult(&status).
		Get("/status")
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	require.Equal(t, "ok", status.Status)

	seen := <-api.observed
	require.Equal(t, "Bearer access-1", seen.authorization)
}
