// Package postgres implements store.Store on PostgreSQL.
//
// Statements are built with the ent SQL builder over database/sql and the
// pgx driver. Concurrency control relies on row locks (SELECT ... FOR UPDATE)
// and conditional updates; see TryReserveAgentSlot.
package postgres

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/omnidesk/omnidesk/pkg/store"
)

const (
	tableCustomers = "customers"
	tableSessions  = "chat_sessions"
	tableMessages  = "messages"
	tableAgents    = "agents"
	tableBots      = "bot_personalities"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var psql = entsql.Dialect(dialect.Postgres)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (stdsql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*stdsql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *stdsql.Row
}

// Store is the PostgreSQL store.Store.
type Store struct {
	*queries
	db *stdsql.DB
}

var _ store.Store = (*Store)(nil)

// New creates a Store on an already migrated database.
func New(db *stdsql.DB) *Store {
	return &Store{queries: &queries{ex: db}, db: db}
}

// InTx runs fn inside a read-committed transaction.
func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{ex: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queries struct {
	ex executor
}

func (q *queries) exec(ctx context.Context, b entsql.Querier) (stdsql.Result, error) {
	query, args := b.Query()
	res, err := q.ex.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (q *queries) query(ctx context.Context, b entsql.Querier) (*stdsql.Rows, error) {
	query, args := b.Query()
	rows, err := q.ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (q *queries) queryRow(ctx context.Context, b entsql.Querier) *stdsql.Row {
	query, args := b.Query()
	return q.ex.QueryRowContext(ctx, query, args...)
}

// exists reports whether a row with id is present in table.
func (q *queries) exists(ctx context.Context, table, id string) (bool, error) {
	var found string
	err := q.queryRow(ctx, psql.Select("id").From(psql.Table(table)).Where(entsql.EQ("id", id))).Scan(&found)
	if errors.Is(err, stdsql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

// mapError translates driver errors into store sentinel errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrNotFound)
		}
	}
	return err
}

// notFound converts sql.ErrNoRows into store.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, stdsql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return mapError(err)
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

func marshalList(l []string) (string, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

func unmarshalMap(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func unmarshalList(raw []byte) ([]string, error) {
	var l []string
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("failed to decode json column: %w", err)
	}
	return l, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
