package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/output"
)

var (
	exportOutput string
	importFile   string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write every account snapshot into one encrypted bundle",
		Long: `Collect every stored account snapshot into a single bundle encrypted with
a password of 4 to 50 characters. The password is asked twice.

Without --output you are asked where to save the bundle.`,
		Example: `  agswitch export --output ~/accounts.agsx
  agswitch export --output ~/backups/`,
		Args: cobra.NoArgs,
		RunE: runExport,
	}

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Restore account snapshots from an encrypted bundle",
		Long: `Decrypt a bundle written by 'agswitch export' and restore its snapshots.
Existing snapshots with the same account are overwritten; others are kept.

Files that cannot be written are listed and the rest are still restored.`,
		Example: `  agswitch import --file ~/accounts.agsx`,
		Args:    cobra.NoArgs,
		RunE:    runImport,
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "bundle path or directory")
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "bundle to import")

	RootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	prompt := newTermPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
	orch, err := rt.orchestrator(prompt, &pathDialog{path: expandHome(exportOutput), prompt: prompt})
	if err != nil {
		return err
	}

	outcome, err := orch.Export(cmd.Context())
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), outcome.Summary())
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	prompt := newTermPrompt(cmd.InOrStdin(), cmd.ErrOrStderr())
	orch, err := rt.orchestrator(prompt, &pathDialog{path: expandHome(importFile), prompt: prompt})
	if err != nil {
		return err
	}

	outcome, err := orch.Import(cmd.Context())
	if err != nil {
		return finish(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), outcome.Summary())
	fmt.Fprint(cmd.OutOrStdout(), output.RenderFailures(outcome.Failed))
	return nil
}
