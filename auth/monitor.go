package auth

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/scopewatch/scopewatch-client/lib/logger"
	"github.com/sirupsen/logrus"
)

const defaultMonitorInterval = 1 * time.Minute

// monitorInitialDelay is the pause before the first check, so a session
// resumed with an already stale token catches up right away instead of
// waiting out a full interval.
const monitorInitialDelay = 1 * time.Second

// MonitorConfig is the Monitor configuration.
type MonitorConfig struct {
	// Store is read for the current access token on every tick.
	Store storage.Store
	// Inspector decides whether the token is due for a refresh.
	Inspector *Inspector
	// Refresh performs the refresh. The result is discarded: this path is
	// purely opportunistic.
	Refresh func(ctx context.Context) (string, error)
	// Interval between checks. Defaults to a minute.
	Interval time.Duration
	// Clock defaults to the wall clock.
	Clock clockwork.Clock
	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults checks the config and fills in the blanks.
func (c *MonitorConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Refresh == nil {
		return trace.BadParameter("missing Refresh")
	}
	if c.Interval <= 0 {
		c.Interval = defaultMonitorInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Inspector == nil {
		c.Inspector = NewInspector(c.Clock, 0)
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Monitor keeps an eye on the stored access token and refreshes it before it
// expires, independent of request traffic. Errors never leave this component:
// whatever the monitor misses, the request path picks up.
type Monitor struct {
	conf MonitorConfig
	log  logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(conf MonitorConfig) (*Monitor, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Monitor{conf: conf, log: conf.Log}, nil
}

// Start launches the check loop. Starting a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.loop(ctx)
	}()
}

// Stop terminates the loop and waits for it to exit. It is idempotent and
// safe to call on a monitor that was never started. Canceling the loop also
// cancels any refresh wait the current check is blocked in, so Stop returns
// promptly even mid-check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *Monitor) loop(ctx context.Context) {
	timer := m.conf.Clock.NewTimer(monitorInitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Refresh monitor shutting down")
			return
		case <-timer.Chan():
			m.check(ctx)
			timer.Reset(m.conf.Interval)
		}
	}
}

// check refreshes the stored access token if it is stale or about to become
// stale. Failures are logged and swallowed.
func (m *Monitor) check(ctx context.Context) {
	accessToken, err := m.conf.Store.Get(storage.AccessTokenKey)
	if err != nil || accessToken == "" {
		// Signed out, or the store is unreadable, which amounts to the same.
		return
	}
	if !m.conf.Inspector.NeedsRefresh(accessToken) {
		return
	}

	if _, err := m.conf.Refresh(ctx); err != nil {
		m.log.WithError(err).Debug("Proactive token refresh failed")
	}
}
