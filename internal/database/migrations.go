package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "messages and contribution log",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    external_id TEXT NOT NULL,
    author TEXT NOT NULL,
    text TEXT NOT NULL,
    is_bot INTEGER DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE (group_id, external_id)
);

CREATE TABLE IF NOT EXISTS contributions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id TEXT NOT NULL,
    channel TEXT,
    username TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 1,
    contribution TEXT NOT NULL,
    logged_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    summary TEXT NOT NULL,
    trigger TEXT NOT NULL DEFAULT 'manual'
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(group_id, channel, created_at);
CREATE INDEX IF NOT EXISTS idx_contributions_user ON contributions(username);
CREATE INDEX IF NOT EXISTS idx_summaries_group ON summaries(group_id, timestamp);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "backfill markers and contribution run ids",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS backfill_markers (
    group_id TEXT PRIMARY KEY,
    completed_at TEXT DEFAULT (datetime('now'))
);
`); err != nil {
				return err
			}
			has, err := columnExists(tx, "contributions", "run_id")
			if err != nil || has {
				return err
			}
			_, err = tx.Exec(`ALTER TABLE contributions ADD COLUMN run_id TEXT`)
			return err
		},
	},
	{
		Version:     3,
		Description: "mark messages classified on arrival",
		Up: func(tx *sql.Tx) error {
			has, err := columnExists(tx, "messages", "classified")
			if err != nil || has {
				return err
			}
			_, err = tx.Exec(`ALTER TABLE messages ADD COLUMN classified INTEGER NOT NULL DEFAULT 0`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// columnExists keeps ALTER TABLE migrations re-runnable.
func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
