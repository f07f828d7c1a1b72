package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/scopewatch/scopewatch-client/auth"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/scopewatch/scopewatch-client/lib"
	"github.com/scopewatch/scopewatch-client/lib/backoff"
	"github.com/scopewatch/scopewatch-client/lib/logger"
	"github.com/tidwall/gjson"
)

const (
	// Backoff bounds for polling the store while waiting for someone to
	// sign in.
	credentialPollBase = 1 * time.Second
	credentialPollMax  = 10 * time.Second

	versionCheckTimeout = 5 * time.Second
)

// serverStatus is the payload of the API /status endpoint.
type serverStatus struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	MinClientVersion string `json:"min_client_version"`
}

// App is the foreground session agent: it waits for credentials to appear in
// the store, then keeps the session fresh until it is told to stop.
type App struct {
	conf            Config
	refreshBuffer   time.Duration
	monitorInterval time.Duration

	manager *auth.SessionManager
	client  *resty.Client

	// sessionDown receives a signal whenever the session ends underneath the
	// agent, sending it back to waiting for credentials.
	sessionDown chan struct{}

	// terminated can be closed before Run is even called; the agent then
	// exits as soon as it starts.
	terminated    chan struct{}
	terminateOnce sync.Once
	done          chan struct{}
}

func NewApp(conf Config) (*App, error) {
	refreshBuffer, err := conf.Session.refreshBuffer()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	monitorInterval, err := conf.Session.monitorInterval()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &App{
		conf:            conf,
		refreshBuffer:   refreshBuffer,
		monitorInterval: monitorInterval,
		sessionDown:     make(chan struct{}, 1),
		terminated:      make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

// Run blocks serving the session until the context expires or Shutdown is
// called.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.terminated:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer close(a.done)

	err := a.run(ctx)
	if errors.Is(err, context.Canceled) {
		// Shutdown is the agent's normal way out.
		return nil
	}
	return trace.Wrap(err)
}

// Shutdown attempts a graceful termination, giving up when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	a.terminate()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}

// Close does a fast (force) termination.
func (a *App) Close() {
	a.terminate()
}

func (a *App) terminate() {
	a.terminateOnce.Do(func() { close(a.terminated) })
}

func (a *App) run(ctx context.Context) error {
	log := logger.Standard()
	log.Infof("Starting Scopewatch session agent %s:%s", Version, Gitref)

	manager, err := auth.NewSessionManager(ctx, auth.Config{
		Store:            storage.NewDiskStore(a.conf.Storage.Dir),
		BaseURL:          a.conf.API.BaseURL,
		RefreshBuffer:    a.refreshBuffer,
		MonitorInterval:  a.monitorInterval,
		OnTokenRefreshed: func(string) { log.Debug("Access token refreshed") },
		OnLogout:         a.notifySessionDown,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	a.manager = manager
	a.client = auth.NewHTTPClient(manager, a.conf.API.BaseURL)

	versionChecked := false
	for {
		if err := a.waitForSession(ctx); err != nil {
			return trace.Wrap(err)
		}

		if user, err := manager.CurrentUser(); err == nil {
			log.Infof("Session active for %s", gjson.Get(user, "email").String())
		} else {
			log.Info("Session active")
		}

		if !versionChecked {
			if err := a.checkServerVersion(ctx); err != nil {
				return trace.Wrap(err)
			}
			versionChecked = true
		}

		// The monitor keeps the session fresh from here. All that is left is
		// waiting for the session to end, one way or the other.
		select {
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		case <-a.sessionDown:
			log.Info("Signed out, waiting for new credentials")
		}
	}
}

// waitForSession polls the store until a restorable session shows up, backing
// off between polls.
func (a *App) waitForSession(ctx context.Context) error {
	poll := backoff.NewDecorr(credentialPollBase, credentialPollMax, clockwork.NewRealClock())
	for !a.manager.Initialize() {
		if err := poll.Do(ctx); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (a *App) checkServerVersion(ctx context.Context) error {
	log := logger.Standard()
	log.Debug("Checking the Scopewatch server version")
	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	var status serverStatus
	resp, err := a.client.R().SetContext(ctx).SetResult(&status).Get("/status")
	if err != nil {
		log.Error("Unable to get the Scopewatch server version")
		return trace.Wrap(err)
	}
	if !resp.IsSuccess() {
		return trace.Errorf("status endpoint returned %v", resp.Status())
	}
	if status.MinClientVersion == "" {
		return nil
	}
	return trace.Wrap(lib.AssertClientVersion(status.MinClientVersion, Version))
}

func (a *App) notifySessionDown() {
	select {
	case a.sessionDown <- struct{}{}:
	default:
	}
}
