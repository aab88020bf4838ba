package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// maxWaitPoll caps the probe interval while waiting for a state change.
const maxWaitPoll = 500 * time.Millisecond

var errStateNotReached = errors.New("host state not reached")

// Monitor caches whether the host is running and waits for transitions.
type Monitor struct {
	ctrl     Controller
	interval time.Duration
	log      logrus.FieldLogger

	mu      sync.RWMutex
	running bool
	checked time.Time
}

// NewMonitor creates a Monitor probing ctrl every interval.
func NewMonitor(ctrl Controller, interval time.Duration, log logrus.FieldLogger) *Monitor {
	return &Monitor{
		ctrl:     ctrl,
		interval: interval,
		log:      log.WithField("component", "monitor"),
	}
}

// IsRunning returns the cached state from the last probe.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastChecked returns when the host was last probed.
func (m *Monitor) LastChecked() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checked
}

// Refresh probes the host now and updates the cached state.
func (m *Monitor) Refresh(ctx context.Context) (bool, error) {
	running, err := m.ctrl.IsRunning(ctx)
	if err != nil {
		return m.IsRunning(), err
	}

	m.mu.Lock()
	changed := m.running != running || m.checked.IsZero()
	m.running = running
	m.checked = time.Now()
	m.mu.Unlock()

	if changed {
		m.log.WithField("running", running).Debug("host state changed")
	}
	return running, nil
}

// Run probes the host every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.Refresh(ctx); err != nil {
		m.log.WithError(err).Warn("initial host probe failed")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.log.WithError(err).Warn("host probe failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// WaitUntilStopped blocks until the host is not running, or fails with
// ErrTimeout after timeout.
func (m *Monitor) WaitUntilStopped(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, false, timeout)
}

// WaitUntilRunning blocks until the host is running, or fails with
// ErrTimeout after timeout.
func (m *Monitor) WaitUntilRunning(ctx context.Context, timeout time.Duration) error {
	return m.waitFor(ctx, true, timeout)
}

func (m *Monitor) waitFor(ctx context.Context, want bool, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := m.interval
	if poll <= 0 || poll > maxWaitPoll {
		poll = maxWaitPoll
	}

	var lastErr error
	check := func() error {
		running, err := m.Refresh(waitCtx)
		if err != nil {
			lastErr = err
			return err
		}
		if running != want {
			return errStateNotReached
		}
		return nil
	}

	err := backoff.Retry(check, backoff.WithContext(backoff.NewConstantBackOff(poll), waitCtx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	state := "stopped"
	if want {
		state = "running"
	}
	if lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: host not %s after %s (last probe error: %v)", ErrTimeout, state, timeout, lastErr)
	}
	return fmt.Errorf("%w: host not %s after %s", ErrTimeout, state, timeout)
}
