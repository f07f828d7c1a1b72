// Package auth keeps a Scopewatch API session alive. It persists the
// access/refresh token pair, refreshes the access token shortly before it
// expires, retries rejected requests after an on-demand refresh, and signs
// the application out once the refresh token itself stops working.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/scopewatch/scopewatch-client/auth/oauth"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/scopewatch/scopewatch-client/lib/logger"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Config is the SessionManager configuration.
type Config struct {
	// Store persists the credential pair and the cached user profile.
	Store storage.Store
	// BaseURL is the Scopewatch API base URL. Required unless both Refresher
	// and Exchanger are set explicitly.
	BaseURL string
	// Refresher trades a refresh token for a new access token. Defaults to an
	// API client built from BaseURL.
	Refresher oauth.Refresher
	// Exchanger trades login credentials for a token pair. Defaults to an API
	// client built from BaseURL.
	Exchanger oauth.Exchanger
	// RefreshBuffer is how long before expiry an access token already counts
	// as needing refresh. Zero means the default of five minutes.
	RefreshBuffer time.Duration
	// MonitorInterval is how often the background monitor re-examines the
	// stored access token. Zero means the default of one minute.
	MonitorInterval time.Duration
	// OnTokenRefreshed, if set, is called with every newly acquired access
	// token, after it has been stored.
	OnTokenRefreshed func(accessToken string)
	// OnLogout, if set, is called once per session teardown, whether the
	// teardown came from Logout or from an irrecoverable refresh failure.
	OnLogout func()
	// Clock is used for expiry checks and monitor scheduling.
	Clock clockwork.Clock
	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults checks the config and fills in the blanks.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Refresher == nil || c.Exchanger == nil {
		if c.BaseURL == "" {
			return trace.BadParameter("missing BaseURL")
		}
		client := oauth.NewClient(c.BaseURL)
		if c.Refresher == nil {
			c.Refresher = client
		}
		if c.Exchanger == nil {
			c.Exchanger = client
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// SessionManager wires the session pieces together and is the one type the
// rest of the application talks to. It owns the session state transitions:
// a session becomes active on Login, or on Initialize finding stored
// credentials, and it ends exactly once, through Logout or through the
// first irrecoverable refresh failure, whichever comes first.
type SessionManager struct {
	// ctx bounds background work: the monitor loop, restore attempts and the
	// refresh requests themselves.
	ctx  context.Context
	conf Config
	log  logrus.FieldLogger

	inspector   *Inspector
	coordinator *Coordinator
	monitor     *Monitor

	mu     sync.Mutex
	active bool
}

// NewSessionManager creates a SessionManager. The context bounds all of its
// background work; canceling it halts the monitor and any in-flight refresh.
func NewSessionManager(ctx context.Context, conf Config) (*SessionManager, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	m := &SessionManager{
		ctx:       ctx,
		conf:      conf,
		log:       conf.Log,
		inspector: NewInspector(conf.Clock, conf.RefreshBuffer),
	}

	coordinator, err := NewCoordinator(ctx, CoordinatorConfig{
		Store:       conf.Store,
		Refresher:   conf.Refresher,
		OnRefreshed: conf.OnTokenRefreshed,
		Log:         conf.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m.coordinator = coordinator

	monitor, err := NewMonitor(MonitorConfig{
		Store:     conf.Store,
		Inspector: m.inspector,
		Refresh:   m.EnsureFresh,
		Interval:  conf.MonitorInterval,
		Clock:     conf.Clock,
		Log:       conf.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m.monitor = monitor

	return m, nil
}

// Initialize restores a previously stored session, if any. It returns true
// when the stored access token and user profile are ready to use as-is.
// When the tokens are stale it starts a best-effort refresh in the
// background and returns false right away; Authenticated reports later
// whether the refresh worked out.
func (m *SessionManager) Initialize() bool {
	accessToken, err := m.conf.Store.Get(storage.AccessTokenKey)
	hasAccess := err == nil && accessToken != ""
	refreshToken, err := m.conf.Store.Get(storage.RefreshTokenKey)
	hasRefresh := err == nil && refreshToken != ""
	user, err := m.conf.Store.Get(storage.UserKey)
	hasUser := err == nil && user != ""

	if !hasAccess && !hasRefresh {
		return false
	}

	m.activate()

	if hasAccess && hasUser && !m.inspector.NeedsRefresh(accessToken) {
		return true
	}

	// The session exists but its access token is stale or incomplete.
	// Rebuild it off the startup path.
	go func() {
		if _, err := m.EnsureFresh(m.ctx); err != nil {
			m.log.WithError(err).Debug("Failed to restore the session")
			return
		}
		m.log.Info("Session restored")
	}()

	return false
}

// Login exchanges the user's credentials for a token pair and opens a new
// session on success.
func (m *SessionManager) Login(ctx context.Context, email, password string) error {
	creds, err := m.conf.Exchanger.Exchange(ctx, oauth.LoginRequest{
		Email:    email,
		Password: password,
		DeviceID: m.deviceID(),
	})
	if err != nil {
		return trace.Wrap(err)
	}

	if err := m.conf.Store.Set(storage.AccessTokenKey, creds.AccessToken); err != nil {
		return trace.Wrap(err)
	}
	if err := m.conf.Store.Set(storage.RefreshTokenKey, creds.RefreshToken); err != nil {
		return trace.Wrap(err)
	}
	if len(creds.User) > 0 {
		if err := m.conf.Store.Set(storage.UserKey, string(creds.User)); err != nil {
			return trace.Wrap(err)
		}
	}

	m.activate()
	return nil
}

// Logout ends the session: it stops the monitor, clears the stored session
// state and fires the OnLogout callback. Logging out of an inactive session
// just re-clears storage.
func (m *SessionManager) Logout() error {
	return trace.Wrap(m.teardown())
}

// EnsureFresh obtains a fresh access token, joining an in-flight refresh if
// one is already running. An irrecoverable failure tears the session down
// as a side effect.
func (m *SessionManager) EnsureFresh(ctx context.Context) (string, error) {
	accessToken, err := m.coordinator.EnsureFresh(ctx)
	if err != nil {
		m.observeRefreshFailure(err)
		return "", trace.Wrap(err)
	}
	return accessToken, nil
}

// ValidAccessToken returns the stored access token while it is still
// comfortably within its lifetime, and refreshes it otherwise.
func (m *SessionManager) ValidAccessToken(ctx context.Context) (string, error) {
	accessToken, err := m.conf.Store.Get(storage.AccessTokenKey)
	if err == nil && accessToken != "" && !m.inspector.NeedsRefresh(accessToken) {
		return accessToken, nil
	}
	accessToken, err = m.EnsureFresh(ctx)
	return accessToken, trace.Wrap(err)
}

// Authenticated reports whether a stored access token exists and has not
// expired yet.
func (m *SessionManager) Authenticated() bool {
	accessToken, err := m.conf.Store.Get(storage.AccessTokenKey)
	if err != nil || accessToken == "" {
		return false
	}
	return m.inspector.IsValid(accessToken)
}

// CurrentUser returns the cached user profile as a JSON document.
func (m *SessionManager) CurrentUser() (string, error) {
	user, err := m.conf.Store.Get(storage.UserKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if !gjson.Valid(user) {
		return "", trace.BadParameter("stored user profile is not valid JSON")
	}
	return user, nil
}

func (m *SessionManager) activate() {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	m.monitor.Start(m.ctx)
}

// teardown ends the session at most once: however many times it runs, only
// the caller that flips the session inactive fires the OnLogout callback.
func (m *SessionManager) teardown() error {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.mu.Unlock()

	m.monitor.Stop()
	err := storage.ClearSession(m.conf.Store)

	if wasActive && m.conf.OnLogout != nil {
		m.conf.OnLogout()
	}
	return trace.Wrap(err)
}

// observeRefreshFailure decides whether a failed refresh ends the session.
// Both refresh paths, the proactive monitor and the request transport, land
// here, so the logout cascade runs once no matter which path saw the
// failure first.
func (m *SessionManager) observeRefreshFailure(err error) {
	// A canceled caller says nothing about the refresh token itself.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		return
	}

	m.log.WithError(err).Info("Session refresh failed, signing out")

	// The monitor may be the caller reporting this failure, and teardown
	// waits for the monitor to stop. Tear down asynchronously so the two
	// never wait on each other.
	go func() {
		if err := m.teardown(); err != nil {
			m.log.WithError(err).Warn("Failed to clean up the session")
		}
	}()
}

func (m *SessionManager) deviceID() string {
	id, err := m.conf.Store.Get(storage.DeviceIDKey)
	if err == nil && id != "" {
		return id
	}
	id = uuid.New().String()
	if err := m.conf.Store.Set(storage.DeviceIDKey, id); err != nil {
		m.log.WithError(err).Warn("Failed to persist the device id")
	}
	return id
}

var _ CredentialSource = (*SessionManager)(nil)
