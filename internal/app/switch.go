package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/output"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/switcher"
)

var (
	loginNewCmd = &cobra.Command{
		Use:   "login-new",
		Short: "Save the current account and reset Antigravity for a new login",
		Long: `Stop Antigravity, save the logged-in account as a snapshot, clear the
live state files and start Antigravity again so another account can log in.

If nobody is logged in the state is still cleared.`,
		Args: cobra.NoArgs,
		RunE: runLoginNew,
	}

	switchCmd = &cobra.Command{
		Use:   "switch <account>",
		Short: "Switch Antigravity to a stored account",
		Long: `Stop Antigravity, save the logged-in account, replace the live state files
with the snapshot of <account> and start Antigravity again.

When some files cannot be restored the switch is reported as incomplete
and the active account is left unchanged.`,
		Example: `  agswitch switch alice@example.com`,
		Args:    cobra.ExactArgs(1),
		RunE:    runSwitch,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Save the logged-in account without restarting Antigravity",
		Long: `Save the live state of the account Antigravity is logged into as its
snapshot. An existing snapshot for the account is replaced. Antigravity
keeps running and its files are left as they are.`,
		Args: cobra.NoArgs,
		RunE: runBackup,
	}
)

func init() {
	RootCmd.AddCommand(loginNewCmd, switchCmd, backupCmd)
}

func runLoginNew(cmd *cobra.Command, args []string) error {
	obs := newSpinnerObserver(cmd.ErrOrStderr())
	coord, err := rt.coordinator(obs)
	if err != nil {
		return err
	}

	outcome, err := coord.LoginNewAccount(cmd.Context())
	obs.done()
	if err != nil {
		return finish(cmd, err)
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	coord, err := rt.coordinator(nil)
	if err != nil {
		return err
	}

	outcome, err := coord.BackupCurrent(cmd.Context())
	if err != nil {
		return finish(cmd, err)
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	id, err := snapshots.IdentifierFromEmail(args[0])
	if err != nil {
		return finish(cmd, err)
	}

	obs := newSpinnerObserver(cmd.ErrOrStderr())
	coord, err := rt.coordinator(obs)
	if err != nil {
		return err
	}

	outcome, err := coord.SwitchTo(cmd.Context(), id)
	obs.done()
	if err != nil {
		return finish(cmd, err)
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

func printOutcome(w io.Writer, o *switcher.Outcome) {
	fmt.Fprintln(w, o.Summary())
	if o.Restore != nil {
		fmt.Fprint(w, output.RenderFailures(o.Restore.Failed))
	}
}

// stateMessages are shown while the coordinator is in each state.
var stateMessages = map[switcher.State]string{
	switcher.ProcessStopped:     "Antigravity stopped",
	switcher.BackingUpCurrent:   "Saving the current account",
	switcher.FilesRestored:      "Account files in place",
	switcher.ProcessRelaunching: "Starting Antigravity",
	switcher.Aborted:            "Aborting, starting Antigravity again",
}

// spinnerObserver shows coordinator progress on a spinner.
type spinnerObserver struct {
	mu      sync.Mutex
	spinner *output.Spinner
}

func newSpinnerObserver(w io.Writer) *spinnerObserver {
	s := output.NewSpinner("Stopping Antigravity")
	s.SetWriter(w)
	return &spinnerObserver{spinner: s}
}

func (o *spinnerObserver) OnStopIntent(op switcher.Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spinner.Start()
}

func (o *spinnerObserver) OnTransition(from, to switcher.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if to == switcher.Idle {
		o.spinner.Stop()
		return
	}
	if msg, ok := stateMessages[to]; ok {
		o.spinner.UpdateMessage(msg)
	}
}

func (o *spinnerObserver) done() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spinner.Stop()
}
