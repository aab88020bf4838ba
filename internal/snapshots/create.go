package snapshots

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/store"
)

// tmpPrefix marks in-flight temp files; they are never treated as snapshot content.
const tmpPrefix = ".agswitch-tmp-"

// Save stores files as the snapshot for identifier, replacing any previous
// snapshot with the same identifier. Entry names must be bare file names.
// Reports whether a new snapshot was created (false = overwritten).
func (m *Manager) Save(identifier string, files []Entry) (bool, error) {
	if err := validateIdentifier(identifier); err != nil {
		return false, err
	}
	for _, f := range files {
		if err := validateLogicalName(f.Filename); err != nil {
			return false, err
		}
	}

	dir := filepath.Join(m.accountsDir, identifier)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false, fmt.Errorf("%w: failed to create snapshot directory: %v", ErrIO, err)
	}

	keep := make(map[string]bool, len(files))
	rows := make([]*store.AccountFile, 0, len(files))
	now := m.now()

	for _, f := range files {
		if err := writeFileAtomic(filepath.Join(dir, f.Filename), f.Content, f.Timestamp); err != nil {
			return false, fmt.Errorf("%w: failed to write %s/%s: %v", ErrIO, identifier, f.Filename, err)
		}
		keep[f.Filename] = true

		updated := f.Timestamp
		if updated.IsZero() {
			updated = now
		}
		rows = append(rows, &store.AccountFile{
			Filename:  f.Filename,
			SizeBytes: int64(len(f.Content)),
			UpdatedAt: updated,
		})
	}

	// Drop files left over from an older snapshot of the same account.
	existing, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("%w: failed to read snapshot directory: %v", ErrIO, err)
	}
	for _, de := range existing {
		if de.IsDir() || keep[de.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err != nil {
			m.log.WithError(err).WithField("file", de.Name()).Warn("failed to remove stale snapshot file")
		}
	}

	created, err := m.store.UpsertAccount(identifier, now, rows)
	if err != nil {
		return false, fmt.Errorf("failed to record snapshot %s: %w", identifier, err)
	}

	m.log.WithFields(logrus.Fields{
		"identifier": identifier,
		"files":      len(files),
		"created":    created,
	}).Info("saved account snapshot")

	return created, nil
}

// Get loads a snapshot with its file contents read from disk.
func (m *Manager) Get(identifier string) (*Snapshot, error) {
	acc, err := m.store.GetAccount(identifier)
	if err != nil {
		return nil, err
	}

	files, err := m.readSnapshotDir(identifier)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Identifier:     acc.Identifier,
		Files:          files,
		CreatedAt:      acc.CreatedAt,
		LastSwitchedAt: acc.LastSwitchedAt,
	}, nil
}

// Exists reports whether a snapshot is stored for identifier.
func (m *Manager) Exists(identifier string) (bool, error) {
	_, err := m.store.GetAccount(identifier)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// List returns metadata for all snapshots, most recently switched first.
func (m *Manager) List() ([]*store.Account, error) {
	accounts, err := m.store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return accounts, nil
}

// CollectAll returns every file of every stored snapshot, read at call time.
// Entry names are "<identifier>/<file>".
func (m *Manager) CollectAll() ([]Entry, error) {
	accounts, err := m.store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Identifier < accounts[j].Identifier
	})

	var entries []Entry
	for _, acc := range accounts {
		files, err := m.readSnapshotDir(acc.Identifier)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			entries = append(entries, Entry{
				Filename:  acc.Identifier + "/" + f.Filename,
				Content:   f.Content,
				Timestamp: f.Timestamp,
			})
		}
	}

	return entries, nil
}

// readSnapshotDir reads every regular file of one snapshot, sorted by name.
func (m *Manager) readSnapshotDir(identifier string) ([]Entry, error) {
	dir := filepath.Join(m.accountsDir, identifier)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrIO, dir, err)
	}

	var files []Entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", ErrIO, path, err)
		}
		var modTime time.Time
		if info, err := de.Info(); err == nil {
			modTime = info.ModTime()
		}
		files = append(files, Entry{
			Filename:  de.Name(),
			Content:   content,
			Timestamp: modTime,
		})
	}
	return files, nil
}
