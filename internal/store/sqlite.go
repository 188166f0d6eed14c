package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/clipscript/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL UNIQUE,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	enhanced     INTEGER NOT NULL DEFAULT 0,
	final_text   TEXT NOT NULL DEFAULT '',
	json_path    TEXT NOT NULL DEFAULT '',
	text_path    TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at);
`

const runColumns = `id, task_id, url, title, author, status, error, language, confidence, enhanced, final_text, json_path, text_path, created_at, completed_at`

// Migrate creates the runs table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r *model.Run) error {
	id := uuid.New().String()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			url = excluded.url, title = excluded.title, author = excluded.author,
			status = excluded.status, error = excluded.error, language = excluded.language,
			confidence = excluded.confidence, enhanced = excluded.enhanced,
			final_text = excluded.final_text, json_path = excluded.json_path,
			text_path = excluded.text_path, completed_at = excluded.completed_at
		RETURNING id`,
		id, r.TaskID, r.URL, r.Title, r.Author, string(r.Status), r.Error, r.Language,
		r.Confidence, r.Enhanced, r.FinalText, r.JSONPath, r.TextPath,
		r.CreatedAt.UTC(), r.CompletedAt.UTC(),
	)
	if err := row.Scan(&r.ID); err != nil {
		return eris.Wrapf(err, "sqlite: record run %s", r.TaskID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR task_id = ? LIMIT 1`, id, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY completed_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &r.TaskID, &r.URL, &r.Title, &r.Author, &status, &r.Error,
		&r.Language, &r.Confidence, &r.Enhanced, &r.FinalText, &r.JSONPath, &r.TextPath,
		&r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.TaskStatus(status)
	return &r, nil
}
