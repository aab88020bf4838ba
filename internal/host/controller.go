package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Controller starts, stops, and probes the host process.
type Controller interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
}

// killGrace is how long terminated processes get before they are killed.
const killGrace = 3 * time.Second

// ProcessController finds host processes by name and launches the host
// executable.
type ProcessController struct {
	names      []string
	executable string
	log        logrus.FieldLogger

	lookPath   func(string) (string, error)
	candidates func() []string
	launch     func(path string) error
}

// NewProcessController creates a controller matching processes by any of
// names (case-insensitive). executable, when set, is preferred for Start.
func NewProcessController(names []string, executable string, log logrus.FieldLogger) *ProcessController {
	c := &ProcessController{
		names:      names,
		executable: executable,
		log:        log.WithField("component", "host"),
		lookPath:   exec.LookPath,
		candidates: installCandidates,
	}
	c.launch = c.spawn
	return c
}

// IsRunning reports whether any host process is alive.
func (c *ProcessController) IsRunning(ctx context.Context) (bool, error) {
	procs, err := c.find(ctx)
	if err != nil {
		return false, err
	}
	return len(procs) > 0, nil
}

// Stop terminates every host process, killing those still alive after a
// short grace period. It returns once the signals are sent; callers wait
// for the exit through a Monitor.
func (c *ProcessController) Stop(ctx context.Context) error {
	procs, err := c.find(ctx)
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		return nil
	}

	for _, p := range procs {
		if err := p.TerminateWithContext(ctx); err != nil {
			c.log.WithError(err).WithField("pid", p.Pid).Debug("terminate failed")
		}
	}

	graceCtx, cancel := context.WithTimeout(ctx, killGrace)
	defer cancel()

	exited := func() error {
		for _, p := range procs {
			if alive, _ := p.IsRunningWithContext(graceCtx); alive {
				return errors.New("still running")
			}
		}
		return nil
	}
	if backoff.Retry(exited, backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), graceCtx)) == nil {
		c.log.WithField("count", len(procs)).Info("host processes terminated")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var errs []error
	for _, p := range procs {
		alive, _ := p.IsRunningWithContext(ctx)
		if !alive {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill pid %d: %w", p.Pid, err))
			continue
		}
		c.log.WithField("pid", p.Pid).Warn("host process killed after grace period")
	}
	return errors.Join(errs...)
}

// Start launches the host detached from agswitch.
func (c *ProcessController) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exe, err := c.DetectExecutable()
	if err != nil {
		return err
	}
	if err := c.launch(exe); err != nil {
		return fmt.Errorf("failed to start %s: %w", exe, err)
	}

	c.log.WithField("executable", exe).Info("host started")
	return nil
}

// ProcessInfo describes one running host process.
type ProcessInfo struct {
	PID        int32
	Name       string
	Executable string
	Started    time.Time
}

// List returns the host processes currently running, ordered by PID.
// Executable and Started are left empty when the OS refuses to report them.
func (c *ProcessController) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := c.find(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := ProcessInfo{PID: p.Pid}
		info.Name, _ = p.NameWithContext(ctx)
		info.Executable, _ = p.ExeWithContext(ctx)
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.Started = time.UnixMilli(ms)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos, nil
}

func (c *ProcessController) find(ctx context.Context) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var matched []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if c.matches(name) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (c *ProcessController) matches(name string) bool {
	for _, n := range c.names {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}
