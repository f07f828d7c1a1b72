package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

type fakeServer struct {
	srv *httptest.Server

	// statusHits carries the Authorization header of every /status request.
	statusHits chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{statusHits: make(chan string, 8)}
	router := httprouter.New()
	router.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		f.statusHits <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","version":"2.3.0","min_client_version":"1.0.0"}`))
	})
	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

func TestAppServesSeededSession(t *testing.T) {
	api := newFakeServer(t)
	dir := t.TempDir()

	accessToken := signTestToken(t, time.Now().Add(2*time.Hour))
	store := storage.NewDiskStore(dir)
	require.NoError(t, store.Set(storage.AccessTokenKey, accessToken))
	require.NoError(t, store.Set(storage.RefreshTokenKey, "refresh-1"))
	require.NoError(t, store.Set(storage.UserKey, `{"id":"u-1","email":"ana@example.com"}`))

	conf := Config{
		API:     APIConfig{BaseURL: api.srv.URL},
		Storage: StorageConfig{Dir: dir},
	}
	require.NoError(t, conf.CheckAndSetDefaults())

	app, err := NewApp(conf)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(context.Background()) }()

	// The agent restores the stored session and checks in with the server.
	select {
	case authorization := <-api.statusHits:
		require.Equal(t, "Bearer "+accessToken, authorization)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the version check")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, <-runErr)
}

func TestAppShutdownWhileWaitingForCredentials(t *testing.T) {
	api := newFakeServer(t)
	conf := Config{
		API:     APIConfig{BaseURL: api.srv.URL},
		Storage: StorageConfig{Dir: t.TempDir()},
	}
	require.NoError(t, conf.CheckAndSetDefaults())

	app, err := NewApp(conf)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, <-runErr)
	require.Empty(t, api.statusHits)
}
