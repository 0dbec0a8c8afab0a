package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
)

const sqliteSchemaVersion = 2

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS notifications (
  id      TEXT PRIMARY KEY,
  type    TEXT NOT NULL,
  kind    TEXT NOT NULL,
  name    TEXT NOT NULL,
  handle  TEXT,
  at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_at
  ON notifications(at DESC, id DESC);
`

const sqliteSchemaV2 = `
CREATE INDEX IF NOT EXISTS idx_notifications_kind_at
  ON notifications(kind, at DESC, id DESC);
`

type SQLiteOption func(*SQLiteJournal)

func WithSQLiteBusyTimeout(d time.Duration) SQLiteOption {
	return func(j *SQLiteJournal) {
		if d > 0 {
			j.busyTimeout = d
		}
	}
}

type SQLiteJournal struct {
	db          *sql.DB
	busyTimeout time.Duration
}

var _ Journal = (*SQLiteJournal)(nil)

func NewSQLiteJournal(dbPath string, opts ...SQLiteOption) (*SQLiteJournal, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{db: db, busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) init() error {
	ctx := context.Background()

	var journalMode string
	if err := j.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := j.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", j.busyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return j.migrate(ctx)
}

func (j *SQLiteJournal) migrate(ctx context.Context) error {
	conn, err := j.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_, _ = conn.ExecContext(ctx, "ROLLBACK;")
	}()

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	var current int
	err = conn.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1;`).Scan(&current)
	hasVersion := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: read schema_version: %w", err)
	}
	if current > sqliteSchemaVersion {
		return fmt.Errorf("sqlite: schema_version=%d, want <=%d", current, sqliteSchemaVersion)
	}

	migrations := []string{sqliteSchemaV1, sqliteSchemaV2}
	for v := current + 1; v <= sqliteSchemaVersion; v++ {
		if _, err := conn.ExecContext(ctx, migrations[v-1]); err != nil {
			return fmt.Errorf("sqlite: migrate v%d: %w", v, err)
		}
	}

	if !hasVersion || current != sqliteSchemaVersion {
		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(rowid, version) VALUES (1, ?);`, sqliteSchemaVersion); err != nil {
			return fmt.Errorf("sqlite: write schema_version: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	committed = true
	return nil
}

func (j *SQLiteJournal) Append(ctx context.Context, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO notifications (id, type, kind, name, handle, at)
VALUES (?, ?, ?, ?, ?, ?);
`, ev.ID, string(ev.Type), ev.Kind, ev.Name, ev.Handle, ev.At.UTC().UnixNano())
	if err != nil {
		if isSQLiteConstraintError(err) {
			return ErrEventExists
		}
		return fmt.Errorf("sqlite: append notification: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) List(ctx context.Context, req ListRequest) ([]Event, error) {
	req = req.normalized()
	var (
		where []string
		args  []any
	)
	if req.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, req.Kind)
	}
	if req.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(req.Type))
	}
	q := `SELECT id, type, kind, name, COALESCE(handle, ''), at FROM notifications`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY at DESC, id DESC LIMIT ?;"
	args = append(args, req.Limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, req.Limit)
	for rows.Next() {
		var (
			ev  Event
			typ string
			at  int64
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Kind, &ev.Name, &ev.Handle, &at); err != nil {
			return nil, err
		}
		ev.Type = Type(typ)
		ev.At = time.Unix(0, at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM notifications WHERE at < ?;`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes carry the base code in the low byte.
	const sqliteConstraintBase = 19
	return sqliteErr.Code()&0xff == sqliteConstraintBase
}
