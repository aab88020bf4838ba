package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agswitch/internal/exchange"
	"github.com/blackwell-systems/agswitch/internal/guard"
	"github.com/blackwell-systems/agswitch/internal/host"
	"github.com/blackwell-systems/agswitch/internal/snapshots"
	"github.com/blackwell-systems/agswitch/internal/switcher"
)

// Exit codes reported by the agswitch binary.
const (
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitInconsistent = 3
	ExitBusy         = 4
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ExitError) Error() string { return e.Msg }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// finish turns an operation error into the command result. A cancelled
// operation prints "cancelled" and succeeds.
func finish(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrCancelled) {
		fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
		return nil
	}
	msg, code := describeError(err)
	return &ExitError{Code: code, Msg: msg, Err: err}
}

// describeError returns a user-facing message and exit code.
func describeError(err error) (string, int) {
	var (
		busy    *guard.BusyError
		schema  *exchange.SchemaError
		aborted *switcher.AbortedError
		partial *snapshots.PartialClearError
	)

	switch {
	case errors.As(err, &busy):
		return fmt.Sprintf("cannot %s while %s is in progress", busy.Requested, busy.Active), ExitBusy
	case errors.As(err, &aborted):
		return aborted.Error(), ExitInconsistent
	case errors.As(err, &partial):
		return partial.Error(), ExitFailure
	case errors.Is(err, exchange.ErrDecryption):
		return "wrong password or damaged bundle", ExitInvalidInput
	case errors.As(err, &schema):
		return "not a valid account bundle: " + schema.Reason, ExitInvalidInput
	case errors.Is(err, exchange.ErrNoData):
		return "nothing to export: no account snapshots are stored", ExitInvalidInput
	case exchange.IsValidation(err):
		return err.Error(), ExitInvalidInput
	case errors.Is(err, snapshots.ErrNotFound):
		return err.Error() + " (see 'agswitch list')", ExitInvalidInput
	case errors.Is(err, snapshots.ErrInvalidIdentifier):
		return err.Error(), ExitInvalidInput
	case errors.Is(err, host.ErrNotLoggedIn):
		return "no account is logged into Antigravity", ExitInvalidInput
	case errors.Is(err, host.ErrTimeout):
		return err.Error() + "; close Antigravity and try again", ExitFailure
	case errors.Is(err, host.ErrExecutableNotFound):
		return err.Error() + "; set host.executable in the config file", ExitFailure
	default:
		return err.Error(), ExitFailure
	}
}
