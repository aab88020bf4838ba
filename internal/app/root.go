package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	dataDirFlag   string
	logLevelFlag  string
	logFormatFlag string

	// rt is the runtime of the command being executed.
	rt *runtime

	// RootCmd is the root command for agswitch
	RootCmd = &cobra.Command{
		Use:   "agswitch",
		Short: "Switch between Antigravity accounts using local snapshots",
		Long: `agswitch keeps a snapshot of the Antigravity state files for every account
you log into and swaps them in while the application is stopped.

Snapshots live in the agswitch data directory and can be moved to another
machine as one password-encrypted bundle.

Quick Start:
  1. Log into your first account in Antigravity
  2. agswitch login-new          # save it and reset for the next login
  3. Log into your second account
  4. agswitch switch you@example.com

Examples:
  # Show stored accounts
  agswitch list

  # Move every snapshot to another machine
  agswitch export --output ~/accounts.agsx
  agswitch import --file ~/accounts.agsx

  # Keep the active account in sync while you switch inside Antigravity
  agswitch watch --daemon`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  initRuntime,
		PersistentPostRunE: closeRuntime,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/agswitch/config.toml)")
	flags.StringVar(&dataDirFlag, "data-dir", "", "agswitch data directory (default: ~/.agswitch)")
	flags.StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&logFormatFlag, "log-format", "", "log format: text or json")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := RootCmd.ExecuteContext(ctx)
	if cerr := closeRuntime(RootCmd, nil); err == nil {
		err = cerr
	}
	return err
}

func initRuntime(cmd *cobra.Command, args []string) error {
	r, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	rt = r
	return nil
}

func closeRuntime(cmd *cobra.Command, args []string) error {
	if rt == nil {
		return nil
	}
	err := rt.Close()
	rt = nil
	if err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return nil
}
