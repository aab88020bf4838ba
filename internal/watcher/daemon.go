package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/blackwell-systems/agswitch/internal/host"
)

// ChildFlag marks the re-executed daemon process.
const ChildFlag = "--daemon-child"

// stopWait bounds how long StopDaemon waits for the daemon to exit.
const stopWait = 5 * time.Second

// ErrDaemonNotRunning is returned by StopDaemon when no daemon is recorded.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StartDaemon re-executes the current binary as a detached watcher with
// "watch --daemon-child" plus extraArgs, records its PID in pidFile, and
// appends its output to logFile.
func StartDaemon(pidFile, logFile string, extraArgs ...string) (int, error) {
	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return 0, fmt.Errorf("daemon already running (PID file: %s)", pidFile)
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create PID directory: %w", err)
	}
	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logF.Close()

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	args := append([]string{"watch", ChildFlag}, extraArgs...)
	cmd := exec.Command(executable, args...)
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.Stdin = nil
	cmd.SysProcAttr = host.DetachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		cmd.Process.Kill()
		return 0, fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release process: %w", err)
	}
	return pid, nil
}

// RunDaemon runs the watcher until SIGTERM, SIGINT or ctx cancellation and
// then removes pidFile.
func (w *Watcher) RunDaemon(ctx context.Context, pidFile string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	<-ctx.Done()
	w.log.Info("shutting down")

	if err := w.Stop(); err != nil {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// StopDaemon terminates the daemon recorded in pidFile and waits for it to
// exit.
func StopDaemon(ctx context.Context, pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w (PID file not found)", ErrDaemonNotRunning)
		}
		return err
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("%w (process %d not found)", ErrDaemonNotRunning, pid)
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(100*time.Millisecond), uint64(stopWait/(100*time.Millisecond)),
	), ctx)
	err = backoff.Retry(func() error {
		alive, err := process.PidExistsWithContext(ctx, pid)
		if err != nil {
			return backoff.Permanent(err)
		}
		if alive {
			return fmt.Errorf("process %d still running", pid)
		}
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("daemon did not exit: %w", err)
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsDaemonRunning reports whether the PID in pidFile belongs to a live
// process. A stale PID file is removed.
func IsDaemonRunning(pidFile string) (bool, error) {
	pid, err := readPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if errors.Is(err, errInvalidPID) {
			return false, nil
		}
		return false, err
	}

	alive, err := process.PidExists(pid)
	if err != nil || !alive {
		os.Remove(pidFile)
		return false, nil
	}
	return true, nil
}

var errInvalidPID = errors.New("invalid PID in file")

func readPID(pidFile string) (int32, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidPID, strings.TrimSpace(string(data)))
	}
	return int32(pid), nil
}
