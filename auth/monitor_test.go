package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/stretchr/testify/require"
)

type monitorHarness struct {
	clock   clockwork.FakeClock
	store   *storage.MemoryStore
	monitor *Monitor

	refreshCalls int32
	refreshErr   error
}

func newMonitorHarness(t *testing.T) *monitorHarness {
	t.Helper()

	h := &monitorHarness{
		clock: clockwork.NewFakeClock(),
		store: storage.NewMemoryStore(),
	}

	monitor, err := NewMonitor(MonitorConfig{
		Store:    h.store,
		Interval: time.Minute,
		Clock:    h.clock,
		Refresh: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&h.refreshCalls, 1)
			if h.refreshErr != nil {
				return "", h.refreshErr
			}
			return "refreshed-token", nil
		},
	})
	require.NoError(t, err)

	h.monitor = monitor
	t.Cleanup(monitor.Stop)
	return h
}

func (h *monitorHarness) calls() int32 {
	return atomic.LoadInt32(&h.refreshCalls)
}

func TestMonitor(t *testing.T) {
	t.Run("InitialCheck", func(t *testing.T) {
		h := newMonitorHarness(t)
		// Expires within the refresh buffer: due right away.
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Minute))))

		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)

		// The first check happens after a short delay, not a full interval.
		h.clock.Advance(monitorInitialDelay)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(1), h.calls())
	})

	t.Run("RefreshesWhenDue", func(t *testing.T) {
		h := newMonitorHarness(t)
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Hour))))

		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)

		// Plenty of validity left: the initial check does nothing.
		h.clock.Advance(monitorInitialDelay)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(0), h.calls())

		// The token becomes stale before the next tick.
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Minute))))
		h.clock.Advance(time.Minute)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(1), h.calls())
	})

	t.Run("SkipsWhenSignedOut", func(t *testing.T) {
		h := newMonitorHarness(t)

		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)

		h.clock.Advance(monitorInitialDelay)
		h.clock.BlockUntil(1)
		h.clock.Advance(time.Minute)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(0), h.calls())
	})

	t.Run("SwallowsRefreshFailures", func(t *testing.T) {
		h := newMonitorHarness(t)
		h.refreshErr = context.DeadlineExceeded
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Minute))))

		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)

		h.clock.Advance(monitorInitialDelay)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(1), h.calls())

		// The loop keeps going and tries again on the next tick.
		h.clock.Advance(time.Minute)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(2), h.calls())
	})

	t.Run("StartTwice", func(t *testing.T) {
		h := newMonitorHarness(t)
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Minute))))

		h.monitor.Start(context.Background())
		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)

		// A single loop is running: one check, not two.
		h.clock.Advance(monitorInitialDelay)
		h.clock.BlockUntil(1)
		require.Equal(t, int32(1), h.calls())
	})

	t.Run("StopIdempotent", func(t *testing.T) {
		h := newMonitorHarness(t)
		require.NoError(t, h.store.Set(storage.AccessTokenKey, signToken(t, h.clock.Now().Add(2*time.Minute))))

		// Safe before the monitor ever ran.
		h.monitor.Stop()

		h.monitor.Start(context.Background())
		h.clock.BlockUntil(1)
		h.monitor.Stop()
		h.monitor.Stop()

		// The loop is gone: nothing more fires no matter how far time moves.
		h.clock.Advance(time.Hour)
		require.Equal(t, int32(0), h.calls())
	})
}
