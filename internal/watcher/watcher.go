package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/host"
)

// settleDelay batches the burst of writes the host makes when it persists
// its state database.
const settleDelay = 750 * time.Millisecond

// Detector reads which account the live host is logged into.
type Detector interface {
	Dir() string
	StatePath() string
	ActiveIdentifier(ctx context.Context) (string, error)
}

// Repository is the part of the snapshot repository the watcher updates.
type Repository interface {
	Exists(identifier string) (bool, error)
	Active() (string, bool, error)
	SetActive(identifier string) error
}

// Locker is the guard shared with switch, export and import.
type Locker interface {
	TryAcquire(op guard.Op) (func(), error)
}

// Watcher keeps the active account pointer in line with whatever account
// the host is actually logged into. It polls the process monitor and
// watches the host data directory for state database writes.
type Watcher struct {
	monitor  *host.Monitor
	live     Detector
	repo     Repository
	lock     Locker
	interval time.Duration
	log      logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	fsw     *fsnotify.Watcher
	wg      sync.WaitGroup
	running bool
}

// New creates a Watcher polling monitor every interval. Sync holds lock
// while it runs and skips when another operation holds it.
func New(monitor *host.Monitor, live Detector, repo Repository, lock Locker, interval time.Duration, log logrus.FieldLogger) (*Watcher, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if live == nil || repo == nil || lock == nil {
		return nil, fmt.Errorf("live state, repository and lock are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	return &Watcher{
		monitor:  monitor,
		live:     live,
		repo:     repo,
		lock:     lock,
		interval: interval,
		log:      log.WithField("component", "watcher"),
	}, nil
}

// Start performs an initial sync and begins watching in the background.
// A missing data directory is not fatal; the watcher then relies on polling.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.WithError(err).Warn("file watching unavailable, polling only")
		fsw = nil
	} else if err := fsw.Add(w.live.Dir()); err != nil {
		w.log.WithError(err).WithField("dir", w.live.Dir()).Warn("cannot watch host data directory, polling only")
		fsw.Close()
		fsw = nil
	}

	if running, err := w.monitor.Refresh(ctx); err != nil {
		w.log.WithError(err).Debug("initial host probe failed")
	} else {
		w.running = running
	}
	if _, _, err := w.Sync(ctx); err != nil {
		w.log.WithError(err).Warn("initial account sync failed")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop(loopCtx, fsw)

	w.log.WithFields(logrus.Fields{
		"dir":      w.live.Dir(),
		"interval": w.interval,
		"fsnotify": fsw != nil,
	}).Info("watching for account changes")
	return nil
}

// Stop halts the watcher. Stopping a watcher that never started is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	cancel, fsw := w.cancel, w.fsw
	w.cancel, w.fsw = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	w.wg.Wait()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	settle := time.NewTimer(settleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fsw != nil {
		events, errs = fsw.Events, fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.poll(ctx) || fsw == nil {
				w.syncAndLog(ctx)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if w.relevant(ev) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.WithError(err).Warn("file watch error")
		case <-settle.C:
			w.syncAndLog(ctx)
		}
	}
}

// poll refreshes the monitor and reports whether the host just started.
func (w *Watcher) poll(ctx context.Context) bool {
	running, err := w.monitor.Refresh(ctx)
	if err != nil {
		w.log.WithError(err).Debug("host probe failed")
		return false
	}

	w.mu.Lock()
	was := w.running
	w.running = running
	w.mu.Unlock()

	if running == was {
		return false
	}
	if running {
		w.log.Info("host started")
		return true
	}
	w.log.Info("host stopped")
	return false
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), filepath.Base(w.live.StatePath()))
}

func (w *Watcher) syncAndLog(ctx context.Context) {
	if _, _, err := w.Sync(ctx); err != nil {
		w.log.WithError(err).Warn("account sync failed")
	}
}

// Sync reads the logged-in account and moves the active pointer to it when
// a snapshot for that account exists. It returns the detected identifier
// and whether the pointer changed. While a switch, export or import holds
// the lock, Sync does nothing; the next event or poll catches up.
func (w *Watcher) Sync(ctx context.Context) (string, bool, error) {
	release, err := w.lock.TryAcquire(guard.Sync)
	if errors.Is(err, guard.ErrBusy) {
		w.log.WithError(err).Debug("sync skipped")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer release()

	id, err := w.live.ActiveIdentifier(ctx)
	if errors.Is(err, host.ErrNotLoggedIn) {
		w.log.Debug("no account logged in")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("detect active account: %w", err)
	}

	exists, err := w.repo.Exists(id)
	if err != nil {
		return id, false, fmt.Errorf("check snapshot %s: %w", id, err)
	}
	if !exists {
		w.log.WithField("identifier", id).Debug("logged-in account has no snapshot")
		return id, false, nil
	}

	current, ok, err := w.repo.Active()
	if err != nil {
		return id, false, fmt.Errorf("read active account: %w", err)
	}
	if ok && current == id {
		return id, false, nil
	}

	if err := w.repo.SetActive(id); err != nil {
		return id, false, fmt.Errorf("set active account: %w", err)
	}
	w.log.WithFields(logrus.Fields{
		"identifier": id,
		"previous":   current,
	}).Info("active account changed")
	return id, true, nil
}
