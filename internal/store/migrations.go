package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the history DDL. Each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		framework_id TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		finished_at  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,

	`CREATE TABLE IF NOT EXISTS task_records (
		session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		task_id      TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		state        TEXT NOT NULL,
		resources    TEXT NOT NULL DEFAULT '{}',
		offer_id     TEXT NOT NULL DEFAULT '',
		slave_id     TEXT NOT NULL DEFAULT '',
		message      TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		launched_at  TEXT,
		completed_at TEXT,
		PRIMARY KEY (session_id, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_state ON task_records(state)`,
}

// alterStatements are column additions made after the first schema
// shipped. SQLite has no ADD COLUMN IF NOT EXISTS.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string
}{
	{
		table:    "task_records",
		column:   "result",
		alterSQL: "ALTER TABLE task_records ADD COLUMN result TEXT NOT NULL DEFAULT ''",
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
