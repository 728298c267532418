package mvarload_api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour and database/sql driver.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const defaultMaxInParams = 900

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(value) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q, must be one of: mysql, postgres, sqlite", value)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectSQLite:
		return "sqlite"
	}
	return "mysql"
}

// sqlRunner is implemented by both *sqlx.Conn and *sqlx.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

// Store owns the connection pool of one database.
type Store struct {
	db          *sqlx.DB
	dialect     Dialect
	maxInParams int
}

// OpenStore connects to the configured database and verifies it answers.
func OpenStore(ctx context.Context, cfg DatabaseConfig) (*Store, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return NewStore(db, dialect, cfg.MaxInParams), nil
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB, dialect Dialect, maxInParams int) *Store {
	if maxInParams <= 0 {
		maxInParams = defaultMaxInParams
	}
	return &Store{db: db, dialect: dialect, maxInParams: maxInParams}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// Session pins one connection. Session level settings such as the constraint
// toggles only hold on that connection, so every statement of a run goes through it.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{conn: conn, dialect: s.dialect, maxInParams: s.maxInParams}, nil
}

type Session struct {
	conn           *sqlx.Conn
	dialect        Dialect
	maxInParams    int
	constraintsOff bool
}

func (s *Session) Dialect() Dialect { return s.dialect }

// Close restores the constraints if a run left them disabled and releases the connection.
func (s *Session) Close() error {
	var errs []error
	if s.constraintsOff {
		errs = append(errs, s.RestoreConstraints(context.Background()))
	}
	errs = append(errs, s.conn.Close())
	return errors.Join(errs...)
}

func (s *Session) constraintStatements(enabled bool) []string {
	switch s.dialect {
	case DialectMySQL:
		if enabled {
			return []string{"SET FOREIGN_KEY_CHECKS = 1", "SET UNIQUE_CHECKS = 1"}
		}
		return []string{"SET FOREIGN_KEY_CHECKS = 0", "SET UNIQUE_CHECKS = 0"}
	case DialectPostgres:
		if enabled {
			return []string{"SET session_replication_role = DEFAULT"}
		}
		return []string{"SET session_replication_role = replica"}
	}
	if enabled {
		return []string{"PRAGMA foreign_keys = ON"}
	}
	return []string{"PRAGMA foreign_keys = OFF"}
}

// DisableConstraints turns off foreign key (and on MySQL unique key) checks for the session.
func (s *Session) DisableConstraints(ctx context.Context) error {
	for _, stmt := range s.constraintStatements(false) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("disable constraints: %w", err)
		}
	}
	s.constraintsOff = true
	return nil
}

func (s *Session) RestoreConstraints(ctx context.Context) error {
	for _, stmt := range s.constraintStatements(true) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("restore constraints: %w", err)
		}
	}
	s.constraintsOff = false
	return nil
}

// InTx runs fn in one transaction on the pinned connection.
func (s *Session) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// MaxID returns the highest id of table, 0 when it is empty.
func (s *Session) MaxID(ctx context.Context, table string) (int64, error) {
	var id int64
	if err := s.conn.GetContext(ctx, &id, "SELECT COALESCE(MAX(id), 0) FROM "+table); err != nil {
		return 0, fmt.Errorf("max id of %s: %w", table, err)
	}
	return id, nil
}

// ExistingVariantIDs returns the ids of the stored variants among refTxts.
func (s *Session) ExistingVariantIDs(ctx context.Context, refTxts []string, assembly Assembly) (map[string]int64, error) {
	return lookupIDs(ctx, s.conn, s.maxInParams,
		"SELECT id, variant_ref_txt AS k FROM variant WHERE variant_ref_txt IN (?) AND assembly = ? ORDER BY id",
		refTxts, assembly.Label())
}

// BackfillCAID derives the public identifier of every canonical row that has none.
func (s *Session) BackfillCAID(ctx context.Context) (int64, error) {
	query := "UPDATE variant_canon_identifier SET caid = 'MCA_' || id WHERE caid IS NULL"
	if s.dialect == DialectMySQL {
		query = "UPDATE variant_canon_identifier SET caid = CONCAT('MCA_', id) WHERE caid IS NULL"
	}
	result, err := s.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("backfill caid: %w", err)
	}
	updated, _ := result.RowsAffected()
	return updated, nil
}

type keyedID struct {
	ID  int64  `db:"id"`
	Key string `db:"k"`
}

type keyedValue struct {
	Key   string         `db:"k"`
	Value sql.NullString `db:"v"`
}

// lookupIDs runs query once per chunk of keys. query selects id and k and its
// first placeholder is the IN (?) list; extra args bind the placeholders after it.
// The first row of every key wins.
func lookupIDs(ctx context.Context, r sqlRunner, maxIn int, query string, keys []string, args ...any) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	err := inChunks(keys, maxIn, func(chunk []string) error {
		q, qargs, err := sqlx.In(query, append([]any{chunk}, args...)...)
		if err != nil {
			return err
		}
		var rows []keyedID
		if err := r.SelectContext(ctx, &rows, r.Rebind(q), qargs...); err != nil {
			return err
		}
		for _, row := range rows {
			if _, ok := out[row.Key]; !ok {
				out[row.Key] = row.ID
			}
		}
		return nil
	})
	return out, err
}

// lookupValues is lookupIDs for queries selecting k and a nullable v. NULL values are left out.
func lookupValues(ctx context.Context, r sqlRunner, maxIn int, query string, keys []string, args ...any) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	err := inChunks(keys, maxIn, func(chunk []string) error {
		q, qargs, err := sqlx.In(query, append([]any{chunk}, args...)...)
		if err != nil {
			return err
		}
		var rows []keyedValue
		if err := r.SelectContext(ctx, &rows, r.Rebind(q), qargs...); err != nil {
			return err
		}
		for _, row := range rows {
			if !row.Value.Valid {
				continue
			}
			if _, ok := out[row.Key]; !ok {
				out[row.Key] = row.Value.String
			}
		}
		return nil
	})
	return out, err
}

func inChunks[T any](keys []T, size int, fn func(chunk []T) error) error {
	if size <= 0 {
		size = defaultMaxInParams
	}
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		if err := fn(keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// uniqueStrings drops empty and repeated values and keeps the first occurrence order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
