package snapshots

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/store"
)

var (
	// ErrNotFound is returned when no snapshot exists for an identifier.
	ErrNotFound = store.ErrNotFound

	// ErrIO marks failures reading or writing the snapshot directory.
	ErrIO = errors.New("snapshot storage i/o failure")

	// ErrInvalidIdentifier is returned for identifiers that cannot name a snapshot.
	ErrInvalidIdentifier = errors.New("invalid account identifier")
)

// Entry is one file of account state. Repository entries are named
// "<identifier>/<file>"; live-state entries use the bare file name.
type Entry struct {
	Filename  string
	Content   []byte
	Timestamp time.Time
}

// Snapshot is the full saved state of one account.
type Snapshot struct {
	Identifier     string
	Files          []Entry // logical names, sorted
	CreatedAt      time.Time
	LastSwitchedAt time.Time
}

// Failure records one entry that could not be written.
type Failure struct {
	Filename string
	Err      error
}

// Reason returns the failure cause as text.
func (f Failure) Reason() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

// RestoreResult is the per-file outcome of a batch write.
// A non-empty Failed list is a partial success, not an error.
type RestoreResult struct {
	RestoredCount int
	Failed        []Failure
}

// Total returns the number of entries that were attempted.
func (r RestoreResult) Total() int {
	return r.RestoredCount + len(r.Failed)
}

// FailedFilenames lists the names of the entries that failed, in order.
func (r RestoreResult) FailedFilenames() []string {
	names := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		names[i] = f.Filename
	}
	return names
}

// PartialClearError is returned by ClearAll when some snapshots survived.
type PartialClearError struct {
	Retained []string
	Errs     []error
}

func (e *PartialClearError) Error() string {
	return fmt.Sprintf("failed to clear %d account snapshot(s), retained: %s",
		len(e.Retained), strings.Join(e.Retained, ", "))
}

func (e *PartialClearError) Unwrap() []error {
	return e.Errs
}

// Manager is the snapshot repository: file contents under accountsDir,
// one directory per identifier, with bookkeeping rows in the store.
type Manager struct {
	store       *store.Store
	accountsDir string
	log         logrus.FieldLogger
	now         func() time.Time
}

// New creates a new snapshot Manager.
func New(st *store.Store, accountsDir string, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:       st,
		accountsDir: accountsDir,
		log:         log.WithField("component", "snapshots"),
		now:         time.Now,
	}
}

// Dir returns the directory holding snapshot files.
func (m *Manager) Dir() string {
	return m.accountsDir
}

// IdentifierFromEmail derives the stable snapshot key for an account email.
// The address is trimmed and lowercased; bytes outside [a-z0-9@._+-] become '_'.
func IdentifierFromEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var sb strings.Builder
	for i := 0; i < len(email); i++ {
		c := email[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			sb.WriteByte(c)
		case c == '@', c == '.', c == '_', c == '+', c == '-':
			sb.WriteByte(c)
		default:
			sb.WriteByte('_')
		}
	}

	id := sb.String()
	if err := validateIdentifier(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, email)
	}
	return id, nil
}

func validateIdentifier(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}
