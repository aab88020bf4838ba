package store

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    identifier TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    last_switched_at TIMESTAMP,
    file_count INTEGER NOT NULL DEFAULT 0,
    size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account_files (
    identifier TEXT NOT NULL,
    filename TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (identifier, filename),
    FOREIGN KEY (identifier) REFERENCES accounts(identifier) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    identifier TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_account_files_identifier ON account_files(identifier);
CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);
`
