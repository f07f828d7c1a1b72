package auth

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/scopewatch/scopewatch-client/auth/oauth"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/scopewatch/scopewatch-client/lib/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the only singleflight key: there is a single credential pair,
// so every refresh contends on the same flight.
const refreshKey = "refresh"

// CoordinatorConfig is the Coordinator configuration.
type CoordinatorConfig struct {
	// Store holds the credential pair the coordinator reads and updates.
	Store storage.Store
	// Refresher performs the actual refresh request.
	Refresher oauth.Refresher
	// OnRefreshed, if set, is called with every newly acquired access token,
	// after it has been stored.
	OnRefreshed func(accessToken string)
	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults checks the config and fills in the blanks.
func (c *CoordinatorConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing Store")
	}
	if c.Refresher == nil {
		return trace.BadParameter("missing Refresher")
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Coordinator serializes access token refreshes: however many callers ask at
// once, at most one refresh request is on the wire, and all of them observe
// that request's outcome. Once a refresh settles the next caller starts a
// fresh one.
type Coordinator struct {
	// ctx runs the refresh request itself, so that one waiter's cancellation
	// cannot fail the flight for everybody else.
	ctx  context.Context
	conf CoordinatorConfig
	log  logrus.FieldLogger

	group singleflight.Group
}

// NewCoordinator creates a Coordinator. The context bounds the lifetime of
// refresh requests, not of any one caller's wait.
func NewCoordinator(ctx context.Context, conf CoordinatorConfig) (*Coordinator, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Coordinator{
		ctx:  ctx,
		conf: conf,
		log:  conf.Log,
	}, nil
}

// EnsureFresh returns a freshly acquired access token. Callers arriving while
// a refresh is in flight join it instead of starting another one; each gets
// the same token or the same error. A caller whose own context expires stops
// waiting, but the flight keeps going for the rest.
func (c *Coordinator) EnsureFresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", trace.Wrap(res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", trace.Wrap(ctx.Err())
	}
}

func (c *Coordinator) refresh() (string, error) {
	refreshToken, err := c.conf.Store.Get(storage.RefreshTokenKey)
	if err != nil || refreshToken == "" {
		// Nothing to refresh from. Fail before touching the network and drop
		// whatever partial session state is left behind.
		c.clear()
		return "", trace.Wrap(ErrNoRefreshToken)
	}

	accessToken, err := c.conf.Refresher.Refresh(c.ctx, refreshToken)
	if err != nil {
		// A refused refresh token will not start working on its own. Clear
		// the whole session rather than roll back to a state that can only
		// fail again.
		c.clear()
		return "", trace.Wrap(err)
	}

	if err := c.conf.Store.Set(storage.AccessTokenKey, accessToken); err != nil {
		// The token still serves the callers at hand; the next read treats
		// an unreadable store as signed out.
		c.log.WithError(err).Warn("Failed to persist the refreshed access token")
	}

	if c.conf.OnRefreshed != nil {
		c.conf.OnRefreshed(accessToken)
	}

	return accessToken, nil
}

func (c *Coordinator) clear() {
	if err := storage.ClearSession(c.conf.Store); err != nil {
		c.log.WithError(err).Warn("Failed to clear session state")
	}
}
