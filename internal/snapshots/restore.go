package snapshots

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/store"
)

// ErrInvalidPath is recorded for entries whose name would escape the target directory.
var ErrInvalidPath = errors.New("invalid entry path")

// RestoreMany writes bundle entries ("<identifier>/<file>") into the repository.
// Every entry is attempted; failures are collected and nothing is rolled back.
func (m *Manager) RestoreMany(entries []Entry) RestoreResult {
	var result RestoreResult
	written := make(map[string][]Entry)
	var order []string

	for _, e := range entries {
		identifier, name, err := splitEntryName(e.Filename)
		if err == nil {
			err = writeEntry(m.accountsDir, identifier+"/"+name, e)
		}
		if err != nil {
			m.log.WithError(err).WithField("file", e.Filename).Warn("failed to restore snapshot file")
			result.Failed = append(result.Failed, Failure{Filename: e.Filename, Err: err})
			continue
		}
		if _, seen := written[identifier]; !seen {
			order = append(order, identifier)
		}
		written[identifier] = append(written[identifier], e)
		result.RestoredCount++
	}

	for _, identifier := range order {
		if err := m.syncMetadata(identifier, written[identifier]); err != nil {
			// Files without a metadata row are invisible to List and CollectAll.
			m.log.WithError(err).WithField("identifier", identifier).Error("failed to record restored snapshot")
			for _, e := range written[identifier] {
				result.RestoredCount--
				result.Failed = append(result.Failed, Failure{Filename: e.Filename, Err: err})
			}
		}
	}

	m.log.WithFields(logrus.Fields{
		"restored": result.RestoredCount,
		"failed":   len(result.Failed),
	}).Info("restored snapshot files")

	return result
}

// syncMetadata refreshes the store row of identifier from what is on disk.
func (m *Manager) syncMetadata(identifier string, restored []Entry) error {
	files, err := m.readSnapshotDir(identifier)
	if err != nil {
		return err
	}

	createdAt := m.now()
	for _, e := range restored {
		if !e.Timestamp.IsZero() && e.Timestamp.Before(createdAt) {
			createdAt = e.Timestamp
		}
	}

	rows := make([]*store.AccountFile, 0, len(files))
	for _, f := range files {
		rows = append(rows, &store.AccountFile{
			Filename:  f.Filename,
			SizeBytes: int64(len(f.Content)),
			UpdatedAt: f.Timestamp,
		})
	}

	_, err = m.store.UpsertAccount(identifier, createdAt, rows)
	return err
}

// WriteEntries writes each entry below root, independently of the others.
// Entry names are slash-separated relative paths; names that are absolute
// or escape root are recorded as failures.
func WriteEntries(root string, entries []Entry) RestoreResult {
	var result RestoreResult
	for _, e := range entries {
		if err := writeEntry(root, e.Filename, e); err != nil {
			result.Failed = append(result.Failed, Failure{Filename: e.Filename, Err: err})
			continue
		}
		result.RestoredCount++
	}
	return result
}

func writeEntry(root, name string, e Entry) error {
	clean, err := cleanEntryPath(name)
	if err != nil {
		return err
	}

	target := filepath.Join(root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := writeFileAtomic(target, e.Content, e.Timestamp); err != nil {
		return err
	}
	return nil
}

// writeFileAtomic writes data via a temp file in the same directory and a rename,
// then stamps the file with modTime when it is set.
func writeFileAtomic(target string, data []byte, modTime time.Time) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}

	if !modTime.IsZero() {
		if err := os.Chtimes(target, modTime, modTime); err != nil {
			return fmt.Errorf("set modification time: %w", err)
		}
	}
	return nil
}

// cleanEntryPath validates a slash-separated relative entry name.
func cleanEntryPath(name string) (string, error) {
	if name == "" || strings.Contains(name, `\`) || path.IsAbs(name) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, tmpPrefix) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
		}
	}
	return clean, nil
}

// splitEntryName splits "<identifier>/<file>" and validates both halves.
func splitEntryName(name string) (identifier, file string, err error) {
	clean, err := cleanEntryPath(name)
	if err != nil {
		return "", "", err
	}
	identifier, file, ok := strings.Cut(clean, "/")
	if !ok || strings.Contains(file, "/") {
		return "", "", fmt.Errorf("%w: %q is not <account>/<file>", ErrInvalidPath, name)
	}
	// Only identifiers IdentifierFromEmail can produce are reachable by
	// switch and delete; anything else would shadow a real account.
	canonical, err := IdentifierFromEmail(identifier)
	if err != nil {
		return "", "", err
	}
	if canonical != identifier {
		return "", "", fmt.Errorf("%w: %q is not in canonical form %q", ErrInvalidIdentifier, identifier, canonical)
	}
	return identifier, file, nil
}

func validateLogicalName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tmpPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
