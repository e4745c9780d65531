// Package sqlstore stores tenant credentials in a SQL database. One row
// holds one named credential entry, so incremental updates only touch the
// entries that changed.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

const table = "tenant_credentials"

// Dialect selects the placeholder style of the target database.
type Dialect int

const (
	// SQLite uses ? placeholders.
	SQLite Dialect = iota
	// Postgres uses $n placeholders.
	Postgres
)

func (d Dialect) builder() sq.StatementBuilderType {
	if d == Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Store implements credential.Store on a *sql.DB.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// New creates a Store on an open database whose schema is already in place.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:  db,
		sb:  dialect.builder(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether tenant has at least one credential entry.
func (s *Store) Exists(ctx context.Context, tenant string) (bool, error) {
	query, args, err := s.sb.Select("1").From(table).Where(sq.Eq{"tenant": tenant}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking credentials: %w", err)
	}
	return true, nil
}

// Load returns every entry stored for tenant.
func (s *Store) Load(ctx context.Context, tenant string) (credential.State, error) {
	query, args, err := s.sb.Select("entry_key", "entry_value").From(table).
		Where(sq.Eq{"tenant": tenant}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building load query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := credential.State{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning credential entry: %w", err)
		}
		state[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	if len(state) == 0 {
		return nil, credential.ErrNotFound
	}
	return state, nil
}

// Save applies update in one transaction: entries set to null are deleted,
// the rest are upserted.
func (s *Store) Save(ctx context.Context, tenant string, update credential.State) error {
	if len(update) == 0 {
		return nil
	}
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning credential transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	for _, key := range keys {
		value := update[key]
		var stmt sq.Sqlizer
		if credential.IsNull(value) {
			stmt = s.sb.Delete(table).Where(sq.Eq{"tenant": tenant, "entry_key": key})
		} else {
			stmt = s.sb.Insert(table).
				Columns("tenant", "entry_key", "entry_value", "updated_at").
				Values(tenant, key, string(value), now).
				Suffix("ON CONFLICT (tenant, entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at")
		}
		query, args, err := stmt.ToSql()
		if err != nil {
			return fmt.Errorf("building credential statement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("saving credential entry %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credentials: %w", err)
	}
	return nil
}

// Delete removes every entry for tenant.
func (s *Store) Delete(ctx context.Context, tenant string) error {
	query, args, err := s.sb.Delete(table).Where(sq.Eq{"tenant": tenant}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// List returns the tenants with stored credentials, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	query, args, err := s.sb.Select("DISTINCT tenant").From(table).OrderBy("tenant").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}
	return tenants, nil
}

// Compile-time interface verification.
var _ credential.Store = (*Store)(nil)
