// Package exchange moves the whole snapshot set between machines as one
// password-protected bundle file.
package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled means the user backed out at file selection or password entry.
	// It is not a failure and is never logged as one.
	ErrCancelled = errors.New("cancelled")

	// ErrNoData is returned by Export when there is nothing to export.
	ErrNoData = errors.New("no account snapshots to export")

	ErrEmptyFile        = errors.New("bundle file is empty")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidSelection = errors.New("invalid file selection")

	// ErrDecryption covers both a wrong password and a corrupted artifact;
	// the two cannot be told apart.
	ErrDecryption = errors.New("decryption failed: wrong password or corrupted file")

	ErrEncryption = errors.New("encryption failed")
)

// SchemaError reports a decoded bundle that is structurally invalid.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid bundle: %s", e.Reason)
}

func schemaErrorf(format string, args ...any) error {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a user input problem: password
// policy, mismatched confirmation, empty file, or a wrong file selection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrPasswordMismatch) ||
		errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrInvalidSelection)
}
