package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Antigravity, snapshot and watcher status",
	Long: `Display whether Antigravity is running, which account is logged in and
active, how many snapshots are stored, whether the watch daemon runs and
the last recorded operation.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	repo, err := rt.repository()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	const label = "%-14s"

	running, err := rt.mon.Refresh(cmd.Context())
	switch {
	case err != nil:
		fmt.Fprintf(out, label+"unknown (%v)\n", "Antigravity:", err)
	case running:
		fmt.Fprintf(out, label+"running (checked %s)\n", "Antigravity:", rt.mon.LastChecked().Format(time.TimeOnly))
	default:
		fmt.Fprintf(out, label+"stopped (checked %s)\n", "Antigravity:", rt.mon.LastChecked().Format(time.TimeOnly))
	}

	if exe, err := rt.ctrl.DetectExecutable(); err == nil {
		fmt.Fprintf(out, label+"%s\n", "Executable:", exe)
	} else {
		fmt.Fprintf(out, label+"not found (set host.executable)\n", "Executable:")
	}

	email, err := rt.live.ActiveEmail(cmd.Context())
	switch {
	case errors.Is(err, host.ErrNotLoggedIn):
		email = "nobody"
	case err != nil:
		email = fmt.Sprintf("unknown (%v)", err)
	}
	fmt.Fprintf(out, label+"%s\n", "Logged in:", email)

	active, ok, err := repo.Active()
	if err != nil {
		return finish(cmd, err)
	}
	if !ok {
		active = "none"
	}
	fmt.Fprintf(out, label+"%s\n", "Active:", active)

	accounts, err := repo.List()
	if err != nil {
		return finish(cmd, err)
	}
	var size int64
	for _, a := range accounts {
		size += a.SizeBytes
	}
	fmt.Fprintf(out, label+"%d · %s · %s\n", "Snapshots:", len(accounts), humanize.IBytes(uint64(size)), rt.cfg.AccountsDir())

	daemon, err := watcher.IsDaemonRunning(rt.cfg.PIDFile())
	switch {
	case err != nil:
		fmt.Fprintf(out, label+"unknown (%v)\n", "Watcher:", err)
	case daemon:
		fmt.Fprintf(out, label+"running\n", "Watcher:")
	default:
		fmt.Fprintf(out, label+"stopped (run 'agswitch watch --daemon')\n", "Watcher:")
	}

	ops, err := rt.store.ListOperations(1)
	if err != nil {
		return finish(cmd, err)
	}
	if len(ops) == 0 {
		fmt.Fprintf(out, label+"none\n", "Last op:")
	} else {
		op := ops[0]
		fmt.Fprintf(out, label+"%s %s · %s\n", "Last op:", op.Kind, op.Outcome, humanize.Time(op.StartedAt))
	}
	return nil
}
