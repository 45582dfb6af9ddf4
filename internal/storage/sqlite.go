package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "wabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

func (s *sqliteStore) UpsertTask(ctx context.Context, t TaskRecord) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, target, body, trigger_spec, next_run, state, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   target=excluded.target, body=excluded.body, trigger_spec=excluded.trigger_spec,
		   next_run=excluded.next_run, state=excluded.state`,
		t.ID, t.Target, t.Body, t.Trigger, nullMillis(t.NextRun), t.State, t.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (TaskRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, target, body, trigger_spec, next_run, state, created_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, body, trigger_spec, next_run, state, created_at FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTaskRun(ctx context.Context, id string, nextRun time.Time, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET next_run = ?, state = ? WHERE id = ?`,
		nullMillis(nextRun), state, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (TaskRecord, error) {
	var (
		t       TaskRecord
		nextRun sql.NullInt64
		created int64
	)
	if err := r.Scan(&t.ID, &t.Target, &t.Body, &t.Trigger, &nextRun, &t.State, &created); err != nil {
		return TaskRecord{}, err
	}
	if nextRun.Valid {
		t.NextRun = time.UnixMilli(nextRun.Int64)
	}
	t.CreatedAt = time.UnixMilli(created)
	return t, nil
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// ---- messages ----

func (s *sqliteStore) PutMessage(ctx context.Context, m MessageRecord) error {
	if m.ID == "" {
		return nil
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, chat_id, sender, body, at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body`,
		m.ID, m.ChatID, m.Sender, m.Body, m.At.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) SearchMessages(ctx context.Context, query string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	// Case-insensitive substring match, newest first.
	pat := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender, body, at FROM messages
		 WHERE lower(body) LIKE ? ORDER BY at DESC LIMIT ?`, pat, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var (
			m  MessageRecord
			at int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &at); err != nil {
			return nil, err
		}
		m.At = time.UnixMilli(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
