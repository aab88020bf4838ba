package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("not found")

const activeAccountKey = "active_account"

// Account operations

// UpsertAccount inserts or refreshes an account row and replaces its file list
// in a single transaction. createdAt is only used when the account is new.
// Reports whether the row was created.
func (s *Store) UpsertAccount(identifier string, createdAt time.Time, files []*AccountFile) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`SELECT identifier FROM accounts WHERE identifier = ?`, identifier).Scan(&existing)
	created := err == sql.ErrNoRows
	if err != nil && !created {
		return false, fmt.Errorf("failed to look up account %s: %w", identifier, classify(err))
	}

	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}

	if created {
		_, err = tx.Exec(`
			INSERT INTO accounts (identifier, created_at, file_count, size_bytes)
			VALUES (?, ?, ?, ?)
		`, identifier, createdAt.UTC().Format(time.RFC3339Nano), len(files), total)
	} else {
		_, err = tx.Exec(`
			UPDATE accounts SET file_count = ?, size_bytes = ? WHERE identifier = ?
		`, len(files), total, identifier)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write account %s: %w", identifier, err)
	}

	if _, err := tx.Exec(`DELETE FROM account_files WHERE identifier = ?`, identifier); err != nil {
		return false, fmt.Errorf("failed to reset files for %s: %w", identifier, err)
	}

	for _, f := range files {
		_, err := tx.Exec(`
			INSERT INTO account_files (identifier, filename, size_bytes, updated_at)
			VALUES (?, ?, ?, ?)
		`, identifier, f.Filename, f.SizeBytes, f.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return false, fmt.Errorf("failed to insert file %s for %s: %w", f.Filename, identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit account %s: %w", identifier, err)
	}
	return created, nil
}

// GetAccount retrieves an account by identifier.
func (s *Store) GetAccount(identifier string) (*Account, error) {
	query := `
		SELECT identifier, created_at, last_switched_at, file_count, size_bytes
		FROM accounts
		WHERE identifier = ?
	`

	acc, err := scanAccount(s.db.QueryRow(query, identifier))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", identifier, classify(err))
	}
	return acc, nil
}

// ListAccounts returns all accounts, most recently switched first.
// Accounts that were never switched to follow, newest backup first.
func (s *Store) ListAccounts() ([]*Account, error) {
	query := `
		SELECT identifier, created_at, last_switched_at, file_count, size_bytes
		FROM accounts
		ORDER BY last_switched_at IS NULL, last_switched_at DESC, created_at DESC, identifier
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", classify(err))
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// GetAccountFiles returns the recorded files of an account ordered by name.
func (s *Store) GetAccountFiles(identifier string) ([]*AccountFile, error) {
	query := `
		SELECT identifier, filename, size_bytes, updated_at
		FROM account_files
		WHERE identifier = ?
		ORDER BY filename
	`

	rows, err := s.db.Query(query, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to get files for %s: %w", identifier, classify(err))
	}
	defer rows.Close()

	var files []*AccountFile
	for rows.Next() {
		var f AccountFile
		var updatedAt string
		if err := rows.Scan(&f.Identifier, &f.Filename, &f.SizeBytes, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at for %s: %w", f.Filename, err)
		}
		files = append(files, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return files, nil
}

// DeleteAccount removes an account and its file rows.
// If the account was active, the active pointer is cleared as well.
func (s *Store) DeleteAccount(identifier string) error {
	result, err := s.db.Exec(`DELETE FROM accounts WHERE identifier = ?`, identifier)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", identifier, classify(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account %s: %w", identifier, ErrNotFound)
	}

	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ? AND value = ?`, activeAccountKey, identifier); err != nil {
		return fmt.Errorf("failed to clear active pointer: %w", err)
	}
	return nil
}

// SetLastSwitched records a successful switch to identifier at the given time.
func (s *Store) SetLastSwitched(identifier string, at time.Time) error {
	result, err := s.db.Exec(`UPDATE accounts SET last_switched_at = ? WHERE identifier = ?`,
		at.UTC().Format(time.RFC3339Nano), identifier)
	if err != nil {
		return fmt.Errorf("failed to update last_switched_at for %s: %w", identifier, classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("account %s: %w", identifier, ErrNotFound)
	}
	return nil
}

// Active pointer

// GetActiveAccount returns the active account identifier, if one has been set.
func (s *Store) GetActiveAccount() (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, activeAccountKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read active account: %w", classify(err))
	}
	return value, true, nil
}

// SetActiveAccount moves the active pointer to identifier.
func (s *Store) SetActiveAccount(identifier string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, activeAccountKey, identifier)
	if err != nil {
		return fmt.Errorf("failed to set active account: %w", classify(err))
	}
	return nil
}

// Operation history

// InsertOperation appends a history record.
func (s *Store) InsertOperation(op *Operation) error {
	_, err := s.db.Exec(`
		INSERT INTO operations (id, kind, identifier, outcome, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		op.Kind,
		op.Identifier,
		op.Outcome,
		op.Detail,
		op.StartedAt.UTC().Format(time.RFC3339Nano),
		op.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation %s: %w", op.ID, classify(err))
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *Store) ListOperations(limit int) ([]*Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, identifier, outcome, detail, started_at, finished_at
		FROM operations
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", classify(err))
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var identifier, detail sql.NullString
		var startedAt, finishedAt string
		if err := rows.Scan(&op.ID, &op.Kind, &identifier, &op.Outcome, &detail, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}
		op.Identifier = identifier.String
		op.Detail = detail.String
		if op.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for %s: %w", op.ID, err)
		}
		if op.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for %s: %w", op.ID, err)
		}
		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var acc Account
	var createdAt string
	var lastSwitched sql.NullString

	if err := row.Scan(&acc.Identifier, &createdAt, &lastSwitched, &acc.FileCount, &acc.SizeBytes); err != nil {
		return nil, err
	}

	var err error
	acc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", acc.Identifier, err)
	}
	if lastSwitched.Valid && lastSwitched.String != "" {
		acc.LastSwitchedAt, err = time.Parse(time.RFC3339Nano, lastSwitched.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_switched_at for %s: %w", acc.Identifier, err)
		}
	}
	return &acc, nil
}
