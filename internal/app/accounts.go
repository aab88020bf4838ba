package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/output"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
)

var (
	clearYes     bool
	historyLimit int

	listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored account snapshots",
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	currentCmd = &cobra.Command{
		Use:   "current",
		Short: "Show the active account and who is logged into Antigravity",
		Args:  cobra.NoArgs,
		RunE:  runCurrent,
	}

	deleteCmd = &cobra.Command{
		Use:     "delete <account>",
		Aliases: []string{"rm"},
		Short:   "Delete one account snapshot",
		Example: `  agswitch delete alice@example.com`,
		Args:    cobra.ExactArgs(1),
		RunE:    runDelete,
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every account snapshot",
		Long: `Delete every stored account snapshot.

Snapshots that cannot be removed are kept and listed; the rest are still
deleted. The live Antigravity state is never touched.`,
		Example: `  agswitch clear --yes`,
		Args:    cobra.NoArgs,
		RunE:    runClear,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent exports, imports and switches",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
)

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of operations to show")

	RootCmd.AddCommand(listCmd, currentCmd, deleteCmd, clearCmd, historyCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	repo, err := rt.repository()
	if err != nil {
		return err
	}

	accounts, err := repo.List()
	if err != nil {
		return finish(cmd, err)
	}
	active, _, err := repo.Active()
	if err != nil {
		return finish(cmd, err)
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderAccountTable(accounts, active))
	return nil
}

func runCurrent(cmd *cobra.Command, args []string) error {
	repo, err := rt.repository()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	active, ok, err := repo.Active()
	if err != nil {
		return finish(cmd, err)
	}
	if ok {
		fmt.Fprintf(out, "Active snapshot: %s\n", active)
	} else {
		fmt.Fprintln(out, "Active snapshot: none")
	}

	email, err := rt.live.ActiveEmail(cmd.Context())
	switch {
	case errors.Is(err, host.ErrNotLoggedIn):
		fmt.Fprintln(out, "Logged in:       nobody")
	case err != nil:
		fmt.Fprintf(out, "Logged in:       unknown (%v)\n", err)
	default:
		fmt.Fprintf(out, "Logged in:       %s\n", email)
		if id, idErr := snapshots.IdentifierFromEmail(email); idErr == nil && ok && id != active {
			fmt.Fprintln(out, "\nThe logged-in account differs from the active snapshot.")
			fmt.Fprintln(out, "Run 'agswitch login-new' to save it, or 'agswitch watch' to track it.")
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := snapshots.IdentifierFromEmail(args[0])
	if err != nil {
		return finish(cmd, err)
	}
	repo, err := rt.repository()
	if err != nil {
		return err
	}

	msg, err := repo.Delete(id)
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	repo, err := rt.repository()
	if err != nil {
		return err
	}

	accounts, err := repo.List()
	if err != nil {
		return finish(cmd, err)
	}
	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No account snapshots to clear.")
		return nil
	}

	if !clearYes {
		prompt := newTermPrompt(cmd.InOrStdin(), cmd.OutOrStdout())
		if !prompt.Confirm(cmd.Context(), fmt.Sprintf("Delete %d account snapshot(s)?", len(accounts))) {
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		}
	}

	msg, err := repo.ClearAll()
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := rt.repository(); err != nil {
		return err
	}
	if historyLimit <= 0 {
		return finish(cmd, fmt.Errorf("--limit must be positive, got %d", historyLimit))
	}

	ops, err := rt.store.ListOperations(historyLimit)
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderOperations(ops))
	return nil
}
