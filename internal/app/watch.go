package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/output"
	"github.com/blackwell-systems/agswitch/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Keep the active account in sync with Antigravity",
		Long: `Watch the Antigravity state directory and move the active account to
whichever stored account is logged in. Use this when you also switch
accounts from inside Antigravity.

Watch modes:
  • Foreground (default): run in the current terminal, Ctrl+C to stop
  • Daemon: run as a background process
  • Stop: stop a running daemon`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  agswitch watch

  # Run as background daemon
  agswitch watch --daemon

  # Stop running daemon
  agswitch watch --stop`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().MarkHidden("daemon-child")
	watchCmd.MarkFlagsMutuallyExclusive("daemon", "stop", "daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	pidFile := rt.cfg.PIDFile()

	switch {
	case watchStop:
		return stopWatchDaemon(cmd, pidFile)
	case watchDaemon:
		return startWatchDaemon(cmd, pidFile)
	}

	repo, err := rt.repository()
	if err != nil {
		return err
	}
	w, err := watcher.New(rt.mon, rt.live, repo, rt.guard, rt.cfg.Host.PollInterval, rt.log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if watchDaemonChild {
		return w.RunDaemon(cmd.Context(), pidFile)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (press Ctrl+C to stop)...\n", rt.cfg.Host.DataDir)
	if err := w.Run(cmd.Context()); err != nil {
		return fmt.Errorf("watcher failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Watcher stopped")
	return nil
}

func startWatchDaemon(cmd *cobra.Command, pidFile string) error {
	logFile := rt.cfg.WatchLogFile()
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	spinner := output.NewSpinner("Starting watch daemon")
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	pid, err := watcher.StartDaemon(pidFile, logFile, daemonArgs()...)
	if err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Watch daemon started")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  PID:      %d\n", pid)
	fmt.Fprintf(out, "  PID file: %s\n", pidFile)
	fmt.Fprintf(out, "  Log file: %s\n", logFile)
	fmt.Fprintln(out, "\nTo stop: agswitch watch --stop")
	return nil
}

func stopWatchDaemon(cmd *cobra.Command, pidFile string) error {
	running, err := watcher.IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Watch daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping watch daemon")
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	if err := watcher.StopDaemon(cmd.Context(), pidFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Watch daemon stopped")
	return nil
}

// daemonArgs forwards the persistent flags the user set to the child.
func daemonArgs() []string {
	var args []string
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			args = append(args, "--config", abs)
		}
	}
	if dataDirFlag != "" {
		if abs, err := filepath.Abs(expandHome(dataDirFlag)); err == nil {
			args = append(args, "--data-dir", abs)
		}
	}
	if logLevelFlag != "" {
		args = append(args, "--log-level", logLevelFlag)
	}
	if logFormatFlag != "" {
		args = append(args, "--log-format", logFormatFlag)
	}
	return args
}
