package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/agswitch/internal/snapshots"
)

// sqliteSidecars are the journal files SQLite keeps next to a database.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// Live is the host's live state: the configured state files in its data
// directory. The first state file is the SQLite database holding the
// login record.
type Live struct {
	dataDir    string
	stateFiles []string
	authKey    string
	log        logrus.FieldLogger
}

// NewLive creates a Live for stateFiles inside dataDir.
func NewLive(dataDir string, stateFiles []string, authKey string, log logrus.FieldLogger) *Live {
	return &Live{
		dataDir:    dataDir,
		stateFiles: stateFiles,
		authKey:    authKey,
		log:        log.WithField("component", "live"),
	}
}

// Dir returns the host data directory.
func (l *Live) Dir() string {
	return l.dataDir
}

// StatePath returns the path of the state database.
func (l *Live) StatePath() string {
	if len(l.stateFiles) == 0 {
		return ""
	}
	return filepath.Join(l.dataDir, l.stateFiles[0])
}

// Capture reads every existing state file. Missing files are skipped.
func (l *Live) Capture() ([]snapshots.Entry, error) {
	var entries []snapshots.Entry
	for _, name := range l.stateFiles {
		path := filepath.Join(l.dataDir, name)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		entries = append(entries, snapshots.Entry{
			Filename:  name,
			Content:   content,
			Timestamp: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// Clear removes every state file and its SQLite sidecars so the host
// starts without a login.
func (l *Live) Clear() error {
	var errs []error
	for _, name := range l.stateFiles {
		path := filepath.Join(l.dataDir, name)
		for _, p := range append([]string{path}, sidecarPaths(path)...) {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	l.log.WithField("dir", l.dataDir).Info("cleared live state")
	return nil
}

// Restore writes snapshot files into the data directory, one at a time.
func (l *Live) Restore(entries []snapshots.Entry) snapshots.RestoreResult {
	if err := os.MkdirAll(l.dataDir, 0700); err != nil {
		var result snapshots.RestoreResult
		for _, e := range entries {
			result.Failed = append(result.Failed, snapshots.Failure{Filename: e.Filename, Err: err})
		}
		return result
	}
	return snapshots.WriteEntries(l.dataDir, entries)
}

// ActiveEmail returns the email of the account logged in to the live state.
// The database is opened read-only.
func (l *Live) ActiveEmail(ctx context.Context) (string, error) {
	path := l.StatePath()
	if path == "" {
		return "", ErrNotLoggedIn
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotLoggedIn
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return "", fmt.Errorf("failed to open state database read-only: %w", err)
	}

	var raw []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM ItemTable WHERE key = ?`, l.authKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", ErrNotLoggedIn
		}
		return "", fmt.Errorf("failed to read %s: %w", l.authKey, err)
	}

	var status struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return "", fmt.Errorf("%w: unreadable %s record: %v", ErrNotLoggedIn, l.authKey, err)
	}
	if strings.TrimSpace(status.Email) == "" {
		return "", ErrNotLoggedIn
	}
	return strings.TrimSpace(status.Email), nil
}

// ActiveIdentifier returns the snapshot identifier of the logged-in account.
func (l *Live) ActiveIdentifier(ctx context.Context) (string, error) {
	email, err := l.ActiveEmail(ctx)
	if err != nil {
		return "", err
	}
	return snapshots.IdentifierFromEmail(email)
}

func sidecarPaths(path string) []string {
	paths := make([]string, len(sqliteSidecars))
	for i, s := range sqliteSidecars {
		paths[i] = path + s
	}
	return paths
}
