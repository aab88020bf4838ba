// Package switcher swaps the host's live state between account snapshots
// while the host is stopped.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/store"
)

// Repository is the snapshot storage used by the coordinator.
type Repository interface {
	Get(identifier string) (*snapshots.Snapshot, error)
	Save(identifier string, files []snapshots.Entry) (bool, error)
	MarkSwitched(identifier string, at time.Time) error
}

// LiveState is the host's live state location.
type LiveState interface {
	Capture() ([]snapshots.Entry, error)
	Clear() error
	Restore(entries []snapshots.Entry) snapshots.RestoreResult
	ActiveIdentifier(ctx context.Context) (string, error)
}

// Waiter confirms host process transitions.
type Waiter interface {
	WaitUntilStopped(ctx context.Context, timeout time.Duration) error
	WaitUntilRunning(ctx context.Context, timeout time.Duration) error
}

// Recorder receives one history row per finished run.
type Recorder interface {
	InsertOperation(op *store.Operation) error
}

// Default process timeouts.
const (
	DefaultStopTimeout  = 10 * time.Second
	DefaultStartTimeout = 15 * time.Second
)

// Coordinator runs login-new, switch and backup.
type Coordinator struct {
	repo   Repository
	live   LiveState
	ctrl   host.Controller
	waiter Waiter
	guard  *guard.Guard
	log    logrus.FieldLogger

	recorder     Recorder
	observers    []Observer
	stopTimeout  time.Duration
	startTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeouts sets how long to wait for the host to stop and to start.
func WithTimeouts(stop, start time.Duration) Option {
	return func(c *Coordinator) {
		if stop > 0 {
			c.stopTimeout = stop
		}
		if start > 0 {
			c.startTimeout = start
		}
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// WithRecorder records every finished run.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// New creates a Coordinator. g is shared with the exchange orchestrator.
func New(repo Repository, live LiveState, ctrl host.Controller, waiter Waiter, g *guard.Guard,
	log logrus.FieldLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:         repo,
		live:         live,
		ctrl:         ctrl,
		waiter:       waiter,
		guard:        g,
		log:          log.WithField("component", "switcher"),
		stopTimeout:  DefaultStopTimeout,
		startTimeout: DefaultStartTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoginNewAccount saves the logged-in account, clears the live state,
// and relaunches the host so a different account can sign in.
func (c *Coordinator) LoginNewAccount(ctx context.Context) (*Outcome, error) {
	release, err := c.guard.TryAcquire(guard.Switch)
	if err != nil {
		return nil, err
	}
	defer release()

	r := c.begin(OpLoginNew, "")
	out, err := c.loginNew(ctx, r)
	r.finish(out, err)
	return out, err
}

func (c *Coordinator) loginNew(ctx context.Context, r *run) (*Outcome, error) {
	if err := c.stopHost(ctx, r); err != nil {
		return nil, err
	}

	out := &Outcome{Operation: OpLoginNew}

	c.transition(BackingUpCurrent)
	id, err := c.live.ActiveIdentifier(ctx)
	switch {
	case errors.Is(err, host.ErrNotLoggedIn):
		r.log.Info("no account logged in, nothing to back up")
	case err != nil:
		return nil, c.abort(ctx, r, fmt.Errorf("failed to read logged-in account: %w", err))
	default:
		created, err := c.backup(id)
		if err != nil {
			return nil, c.abort(ctx, r, err)
		}
		out.BackedUp = id
		out.BackupCreated = created
	}

	if err := c.live.Clear(); err != nil {
		return nil, c.abort(ctx, r, fmt.Errorf("failed to clear live state: %w", err))
	}
	c.transition(FilesRestored)

	out.RelaunchErr = c.relaunch(ctx, r)
	c.transition(Idle)
	return out, nil
}

// BackupCurrent saves the logged-in account without stopping the host or
// touching its live state. It returns host.ErrNotLoggedIn when nobody is
// logged in.
func (c *Coordinator) BackupCurrent(ctx context.Context) (*Outcome, error) {
	release, err := c.guard.TryAcquire(guard.Backup)
	if err != nil {
		return nil, err
	}
	defer release()

	r := c.begin(OpBackup, "")
	out, err := c.backupCurrent(ctx)
	r.finish(out, err)
	return out, err
}

func (c *Coordinator) backupCurrent(ctx context.Context) (*Outcome, error) {
	id, err := c.live.ActiveIdentifier(ctx)
	if err != nil {
		return nil, err
	}
	created, err := c.backup(id)
	if err != nil {
		return nil, err
	}
	return &Outcome{Operation: OpBackup, BackedUp: id, BackupCreated: created}, nil
}

// SwitchTo stops the host, saves the outgoing account, materializes the
// snapshot of identifier as the live state, and relaunches the host.
// Restore failures do not stop the relaunch; they leave the active account
// unchanged and mark the outcome degraded.
func (c *Coordinator) SwitchTo(ctx context.Context, identifier string) (*Outcome, error) {
	release, err := c.guard.TryAcquire(guard.Switch)
	if err != nil {
		return nil, err
	}
	defer release()

	r := c.begin(OpSwitch, identifier)
	out, err := c.switchTo(ctx, r, identifier)
	r.finish(out, err)
	return out, err
}

func (c *Coordinator) switchTo(ctx context.Context, r *run, identifier string) (*Outcome, error) {
	if _, err := c.repo.Get(identifier); err != nil {
		return nil, err
	}

	if err := c.stopHost(ctx, r); err != nil {
		return nil, err
	}

	out := &Outcome{Operation: OpSwitch, Identifier: identifier}

	c.transition(BackingUpCurrent)
	current, err := c.live.ActiveIdentifier(ctx)
	switch {
	case errors.Is(err, host.ErrNotLoggedIn):
	case err != nil:
		out.BackupErr = err
	default:
		created, err := c.backup(current)
		if err != nil {
			out.BackupErr = err
		} else {
			out.BackedUp = current
			out.BackupCreated = created
		}
	}
	if out.BackupErr != nil {
		r.log.WithError(out.BackupErr).Warn("could not back up current account, continuing")
	}

	// Read after the backup: switching to the logged-in account restores
	// what was just saved.
	target, err := c.repo.Get(identifier)
	if err != nil {
		return nil, c.abort(ctx, r, fmt.Errorf("failed to load snapshot %s: %w", identifier, err))
	}

	if err := c.live.Clear(); err != nil {
		return nil, c.abort(ctx, r, fmt.Errorf("failed to clear live state: %w", err))
	}

	result := c.live.Restore(target.Files)
	out.Restore = &result
	c.transition(FilesRestored)

	if len(result.Failed) > 0 {
		out.Degraded = true
		for _, f := range result.Failed {
			r.log.WithError(f.Err).WithField("file", f.Filename).Error("failed to restore file")
		}
	} else if err := c.repo.MarkSwitched(identifier, c.now()); err != nil {
		out.Degraded = true
		r.log.WithError(err).Error("files restored but active account not updated")
	}

	out.RelaunchErr = c.relaunch(ctx, r)
	c.transition(Idle)
	return out, nil
}

// stopHost asks the host to stop and waits for it. On failure nothing has
// been touched and the state stays Idle.
func (c *Coordinator) stopHost(ctx context.Context, r *run) error {
	for _, o := range c.observers {
		o.OnStopIntent(r.op)
	}

	if err := c.ctrl.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop host: %w", err)
	}
	if err := c.waiter.WaitUntilStopped(ctx, c.stopTimeout); err != nil {
		return err
	}

	c.transition(ProcessStopped)
	return nil
}

func (c *Coordinator) backup(identifier string) (bool, error) {
	files, err := c.live.Capture()
	if err != nil {
		return false, fmt.Errorf("failed to read live state: %w", err)
	}
	created, err := c.repo.Save(identifier, files)
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot %s: %w", identifier, err)
	}
	return created, nil
}

// relaunch starts the host and waits for it. It runs even when ctx is
// cancelled so the user is not left without a running host.
func (c *Coordinator) relaunch(ctx context.Context, r *run) error {
	c.transition(ProcessRelaunching)

	ctx = context.WithoutCancel(ctx)
	if err := c.ctrl.Start(ctx); err != nil {
		r.log.WithError(err).Error("failed to relaunch host")
		return err
	}
	if err := c.waiter.WaitUntilRunning(ctx, c.startTimeout); err != nil {
		r.log.WithError(err).Error("host did not come back up")
		return err
	}
	return nil
}

// abort relaunches the host after a failure past the stop step and wraps
// cause in an *AbortedError.
func (c *Coordinator) abort(ctx context.Context, r *run, cause error) error {
	failedIn := c.State()
	c.transition(Aborted)

	relaunchErr := c.relaunch(ctx, r)
	c.transition(Idle)

	return &AbortedError{
		State:       failedIn,
		Err:         cause,
		Relaunched:  relaunchErr == nil,
		RelaunchErr: relaunchErr,
	}
}

func (c *Coordinator) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state transition")
	for _, o := range c.observers {
		o.OnTransition(from, to)
	}
}

type run struct {
	c          *Coordinator
	id         string
	op         Operation
	identifier string
	started    time.Time
	log        logrus.FieldLogger
}

func (c *Coordinator) begin(op Operation, identifier string) *run {
	id := uuid.NewString()
	fields := logrus.Fields{"op": string(op), "op_id": id}
	if identifier != "" {
		fields["identifier"] = identifier
	}
	return &run{
		c:          c,
		id:         id,
		op:         op,
		identifier: identifier,
		started:    c.now(),
		log:        c.log.WithFields(fields),
	}
}

func (r *run) finish(out *Outcome, err error) {
	rec := &store.Operation{
		ID:         r.id,
		Kind:       string(r.op),
		Identifier: r.identifier,
		StartedAt:  r.started,
		FinishedAt: r.c.now(),
	}

	var aborted *AbortedError
	switch {
	case errors.As(err, &aborted):
		rec.Outcome = "aborted"
		rec.Detail = err.Error()
		r.log.WithError(err).Error("run aborted")
	case err != nil:
		rec.Outcome = "error"
		rec.Detail = err.Error()
		r.log.WithError(err).Error("run failed")
	case out.Degraded:
		rec.Outcome = "degraded"
		rec.Detail = out.Summary()
		r.log.Warn(out.Summary())
	default:
		rec.Outcome = "ok"
		rec.Detail = out.Summary()
		r.log.Info(out.Summary())
	}
	if out != nil && out.BackedUp != "" && rec.Identifier == "" {
		rec.Identifier = out.BackedUp
	}

	if r.c.recorder == nil {
		return
	}
	if err := r.c.recorder.InsertOperation(rec); err != nil {
		r.log.WithError(err).Warn("failed to record operation")
	}
}
