package switcher

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/agswitch/internal/snapshots"
)

// State is a step of a coordinator run.
type State int

const (
	Idle State = iota
	ProcessStopped
	BackingUpCurrent
	FilesRestored
	ProcessRelaunching
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProcessStopped:
		return "process-stopped"
	case BackingUpCurrent:
		return "backing-up-current"
	case FilesRestored:
		return "files-restored"
	case ProcessRelaunching:
		return "process-relaunching"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation names a coordinator run.
type Operation string

const (
	OpLoginNew Operation = "login-new"
	OpSwitch   Operation = "switch"
	OpBackup   Operation = "backup"
)

// Observer is told about every run. OnStopIntent always comes first,
// before the host is asked to stop.
type Observer interface {
	OnStopIntent(op Operation)
	OnTransition(from, to State)
}

// Outcome is the result of a run that got past the stop step.
type Outcome struct {
	Operation  Operation
	Identifier string // switch target

	BackedUp      string // identifier of the saved outgoing account, if any
	BackupCreated bool
	BackupErr     error

	Restore  *snapshots.RestoreResult
	Degraded bool // restore incomplete; active account not moved

	RelaunchErr error
}

// Summary returns a one-line description of the run.
func (o *Outcome) Summary() string {
	var parts []string

	switch o.Operation {
	case OpLoginNew:
		if o.BackedUp != "" {
			verb := "updated"
			if o.BackupCreated {
				verb = "created"
			}
			parts = append(parts, fmt.Sprintf("saved %s (%s snapshot)", o.BackedUp, verb))
		} else {
			parts = append(parts, "no account was logged in")
		}
		parts = append(parts, "host reset for a new login")

	case OpBackup:
		verb := "updated"
		if o.BackupCreated {
			verb = "created"
		}
		parts = append(parts, fmt.Sprintf("saved %s (%s snapshot)", o.BackedUp, verb))

	case OpSwitch:
		restored := 0
		if o.Restore != nil {
			restored = o.Restore.RestoredCount
		}
		if o.Degraded {
			msg := fmt.Sprintf("switch to %s incomplete", o.Identifier)
			if o.Restore != nil && len(o.Restore.Failed) > 0 {
				msg += fmt.Sprintf(": restored %d of %d files; %d failed",
					restored, o.Restore.Total(), len(o.Restore.Failed))
			}
			parts = append(parts, msg, "active account unchanged")
		} else {
			parts = append(parts, fmt.Sprintf("switched to %s (%d file(s) restored)", o.Identifier, restored))
		}
		if o.BackedUp != "" {
			parts = append(parts, "saved "+o.BackedUp)
		}
		if o.BackupErr != nil {
			parts = append(parts, "backup of current account failed: "+o.BackupErr.Error())
		}
	}

	if o.RelaunchErr != nil {
		parts = append(parts, "host not relaunched: "+o.RelaunchErr.Error())
	}
	return strings.Join(parts, "; ")
}

// AbortedError is returned when a run failed after the host was stopped.
// The coordinator tried to relaunch the host before returning it.
type AbortedError struct {
	State       State // state the run was in when it failed
	Err         error
	Relaunched  bool
	RelaunchErr error
}

func (e *AbortedError) Error() string {
	msg := fmt.Sprintf("aborted during %s: %v", e.State, e.Err)
	if e.Relaunched {
		return msg + "; host relaunched, its state may be inconsistent"
	}
	return msg + fmt.Sprintf("; host relaunch failed: %v", e.RelaunchErr)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}
