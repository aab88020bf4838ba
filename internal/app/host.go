package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/output"
)

var (
	hostCmd = &cobra.Command{
		Use:   "host",
		Short: "Start, stop or locate Antigravity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	hostStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start Antigravity and wait until it runs",
		Args:  cobra.NoArgs,
		RunE:  runHostStart,
	}

	hostStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop Antigravity and wait until it exits",
		Args:  cobra.NoArgs,
		RunE:  runHostStop,
	}

	hostPsCmd = &cobra.Command{
		Use:   "ps",
		Short: "List the running Antigravity processes",
		Args:  cobra.NoArgs,
		RunE:  runHostPs,
	}

	hostDetectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Print the Antigravity executable agswitch would start",
		Args:  cobra.NoArgs,
		RunE:  runHostDetect,
	}
)

func init() {
	hostCmd.AddCommand(hostStartCmd, hostStopCmd, hostPsCmd, hostDetectCmd)
	RootCmd.AddCommand(hostCmd)
}

func runHostStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if running, err := rt.mon.Refresh(ctx); err == nil && running {
		fmt.Fprintln(cmd.OutOrStdout(), "Antigravity is already running")
		return nil
	}

	spinner := output.NewSpinner("Starting Antigravity").WithTimeout(rt.cfg.Host.StartTimeout)
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	err := rt.ctrl.Start(ctx)
	if err == nil {
		err = rt.mon.WaitUntilRunning(ctx, rt.cfg.Host.StartTimeout)
	}
	if err != nil {
		spinner.Stop()
		return finish(cmd, err)
	}
	spinner.StopWithMessage("✓ Antigravity started")
	return nil
}

func runHostStop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if running, err := rt.mon.Refresh(ctx); err == nil && !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Antigravity is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping Antigravity").WithTimeout(rt.cfg.Host.StopTimeout)
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()
	err := rt.ctrl.Stop(ctx)
	if err == nil {
		err = rt.mon.WaitUntilStopped(ctx, rt.cfg.Host.StopTimeout)
	}
	if err != nil {
		spinner.Stop()
		return finish(cmd, err)
	}
	spinner.StopWithMessage("✓ Antigravity stopped")
	return nil
}

func runHostDetect(cmd *cobra.Command, args []string) error {
	exe, err := rt.ctrl.DetectExecutable()
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), exe)
	return nil
}

func runHostPs(cmd *cobra.Command, args []string) error {
	procs, err := rt.ctrl.List(cmd.Context())
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderProcesses(procs))
	return nil
}
