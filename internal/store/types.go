package store

import "time"

// Account is the metadata row for one stored account snapshot.
// File contents live on disk; this row only tracks bookkeeping.
type Account struct {
	Identifier     string
	CreatedAt      time.Time
	LastSwitchedAt time.Time // zero when never switched to
	FileCount      int
	SizeBytes      int64
}

// AccountFile records one file belonging to an account snapshot.
type AccountFile struct {
	Identifier string
	Filename   string
	SizeBytes  int64
	UpdatedAt  time.Time
}

// Operation is a history record of one login-new/switch/import/export run.
type Operation struct {
	ID         string
	Kind       string // "login-new", "switch", "import", "export"
	Identifier string
	Outcome    string // "ok", "degraded", "aborted", "cancelled", "failed"
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}
