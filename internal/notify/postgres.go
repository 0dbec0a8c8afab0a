package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS brokeradmin_notifications (
  id      TEXT PRIMARY KEY,
  type    TEXT NOT NULL,
  kind    TEXT NOT NULL,
  name    TEXT NOT NULL,
  handle  TEXT NOT NULL DEFAULT '',
  at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_brokeradmin_notifications_at
  ON brokeradmin_notifications(at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_brokeradmin_notifications_kind_at
  ON brokeradmin_notifications(kind, at DESC, id DESC);
`

type PostgresOption func(*PostgresJournal)

func WithPostgresMaxOpenConns(n int) PostgresOption {
	return func(j *PostgresJournal) {
		if n > 0 {
			j.maxOpenConns = n
		}
	}
}

type PostgresJournal struct {
	db           *sql.DB
	maxOpenConns int
}

var _ Journal = (*PostgresJournal)(nil)

func NewPostgresJournal(dsn string, opts ...PostgresOption) (*PostgresJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	j := &PostgresJournal{db: db, maxOpenConns: 4}
	for _, opt := range opts {
		opt(j)
	}
	db.SetMaxOpenConns(j.maxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return j, nil
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}

func (j *PostgresJournal) Append(ctx context.Context, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO brokeradmin_notifications (id, type, kind, name, handle, at)
VALUES ($1, $2, $3, $4, $5, $6)
`, ev.ID, string(ev.Type), ev.Kind, ev.Name, ev.Handle, ev.At.UTC())
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return ErrEventExists
		}
		return fmt.Errorf("postgres: append notification: %w", err)
	}
	return nil
}

func (j *PostgresJournal) List(ctx context.Context, req ListRequest) ([]Event, error) {
	req = req.normalized()
	var (
		where []string
		args  []any
	)
	if req.Kind != "" {
		args = append(args, req.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if req.Type != "" {
		args = append(args, string(req.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	q := `SELECT id, type, kind, name, handle, at FROM brokeradmin_notifications`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, req.Limit)
	q += fmt.Sprintf(" ORDER BY at DESC, id DESC LIMIT $%d", len(args))

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, req.Limit)
	for rows.Next() {
		var (
			ev  Event
			typ string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Kind, &ev.Name, &ev.Handle, &ev.At); err != nil {
			return nil, err
		}
		ev.Type = Type(typ)
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *PostgresJournal) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM brokeradmin_notifications WHERE at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: prune notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
