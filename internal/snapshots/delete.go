package snapshots

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Delete removes one snapshot and returns a confirmation message.
func (m *Manager) Delete(identifier string) (string, error) {
	if err := validateIdentifier(identifier); err != nil {
		return "", err
	}
	if _, err := m.store.GetAccount(identifier); err != nil {
		return "", err
	}

	if err := os.RemoveAll(filepath.Join(m.accountsDir, identifier)); err != nil {
		return "", fmt.Errorf("%w: failed to remove snapshot %s: %v", ErrIO, identifier, err)
	}
	if err := m.store.DeleteAccount(identifier); err != nil {
		return "", fmt.Errorf("failed to delete snapshot %s: %w", identifier, err)
	}

	m.log.WithField("identifier", identifier).Info("deleted account snapshot")
	return fmt.Sprintf("Deleted account snapshot '%s'", identifier), nil
}

// ClearAll deletes every snapshot. Each failure is logged and the remaining
// snapshots are still attempted; any failure yields a *PartialClearError.
func (m *Manager) ClearAll() (string, error) {
	accounts, err := m.store.ListAccounts()
	if err != nil {
		return "", fmt.Errorf("failed to list snapshots: %w", err)
	}

	var (
		retained []string
		errs     []error
		cleared  int
	)
	for _, acc := range accounts {
		if _, err := m.Delete(acc.Identifier); err != nil {
			m.log.WithError(err).WithField("identifier", acc.Identifier).Error("failed to clear snapshot")
			retained = append(retained, acc.Identifier)
			errs = append(errs, err)
			continue
		}
		cleared++
	}

	if len(retained) > 0 {
		return "", &PartialClearError{Retained: retained, Errs: errs}
	}
	return fmt.Sprintf("Cleared %d account snapshot(s)", cleared), nil
}

// MarkSwitched records a completed switch to identifier and points the
// active account at it.
func (m *Manager) MarkSwitched(identifier string, at time.Time) error {
	if err := m.store.SetLastSwitched(identifier, at); err != nil {
		return fmt.Errorf("failed to mark %s switched: %w", identifier, err)
	}
	if err := m.store.SetActiveAccount(identifier); err != nil {
		return fmt.Errorf("failed to set active account: %w", err)
	}
	return nil
}

// Active returns the identifier the active pointer refers to.
// ok is false when the pointer is unset.
func (m *Manager) Active() (string, bool, error) {
	return m.store.GetActiveAccount()
}

// SetActive moves the active pointer to an existing snapshot.
func (m *Manager) SetActive(identifier string) error {
	if _, err := m.store.GetAccount(identifier); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("cannot activate %s: %w", identifier, err)
		}
		return err
	}
	return m.store.SetActiveAccount(identifier)
}
