package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/quiver/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: an in-memory database exists per connection, and
	// history writes are serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	s.logger.Debug("sql", "op", "insert", "table", "sessions", "id", sess.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, framework_id, name, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.FrameworkID, sess.Name, formatTime(sess.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// FinishSession stamps the end of a session and the framework id the
// cluster assigned to it.
func (s *SQLiteStore) FinishSession(ctx context.Context, id, frameworkID string, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "sessions", "id", id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET framework_id = ?, finished_at = ? WHERE id = ?`,
		frameworkID, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const sessionColumns = `s.id, s.framework_id, s.name, s.started_at, s.finished_at,
	(SELECT COUNT(*) FROM task_records t WHERE t.session_id = s.id),
	(SELECT COUNT(*) FROM task_records t WHERE t.session_id = s.id AND t.state != 'TASK_FINISHED')`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.logger.Debug("sql", "op", "get", "table", "sessions", "id", id)
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "sessions", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.started_at DESC, s.id LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// --- Task records ---

// RecordTask stores the outcome of a task. Recording the same task twice
// replaces the earlier row.
func (s *SQLiteStore) RecordTask(ctx context.Context, rec *TaskRecord) error {
	s.logger.Debug("sql", "op", "upsert", "table", "task_records", "session_id", rec.SessionID, "task_id", rec.ID)
	res, err := json.Marshal(rec.Resources)
	if err != nil {
		return fmt.Errorf("encode resources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_records
		 (session_id, task_id, name, state, resources, offer_id, slave_id, message, result, submitted_at, launched_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ID, rec.Name, string(rec.State), string(res), rec.OfferID, rec.SlaveID,
		rec.Message, rec.Result, formatTime(rec.SubmittedAt), nullTime(rec.LaunchedAt), nullTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("record task %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string) ([]*TaskRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "task_records", "session_id", sessionID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, task_id, name, state, resources, offer_id, slave_id, message, result, submitted_at, launched_at, completed_at
		 FROM task_records WHERE session_id = ? ORDER BY submitted_at, task_id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var state, res, submittedAt string
		var launchedAt, completedAt sql.NullString
		if err := rows.Scan(&rec.SessionID, &rec.ID, &rec.Name, &state, &res, &rec.OfferID, &rec.SlaveID,
			&rec.Message, &rec.Result, &submittedAt, &launchedAt, &completedAt); err != nil {
			return nil, err
		}
		rec.State = model.TaskState(state)
		rec.Launched = launchedAt.Valid
		if err := json.Unmarshal([]byte(res), &rec.Resources); err != nil {
			return nil, fmt.Errorf("decode resources of %s: %w", rec.ID, err)
		}
		rec.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
		rec.LaunchedAt = parseNullTime(launchedAt)
		rec.CompletedAt = parseNullTime(completedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&sess.ID, &sess.FrameworkID, &sess.Name, &startedAt, &finishedAt, &sess.Tasks, &sess.Failed); err != nil {
		return nil, err
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.FinishedAt = parseNullTime(finishedAt)
	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
