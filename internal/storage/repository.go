package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour a Repository speaks.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

const (
	sqliteTimeLayout = "2006-01-02 15:04:05"
	dateLayout       = "2006-01-02"
)

// Options configures Open.
type Options struct {
	Backend     string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string
}

// Repository is the relational store behind every service. All times it
// reads and writes are tenant-local wall clocks in the UTC location.
type Repository struct {
	*Queries
	db   *sql.DB
	pool *pgxpool.Pool
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	switch opts.Backend {
	case "postgres":
		return NewPostgresRepository(ctx, opts.DatabaseURL)
	case "sqlite", "":
		return NewSQLiteRepository(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported data backend %q", opts.Backend)
	}
}

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunSQLiteMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{Queries: &Queries{db: db, dialect: SQLite}, db: db}, nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func NewPostgresRepository(ctx context.Context, url string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunPostgresMigrations(url); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	return &Repository{Queries: &Queries{db: db, dialect: Postgres}, db: db, pool: pool}, nil
}

func (r *Repository) Close() error {
	var err error
	if r.db != nil {
		err = r.db.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
	return err
}

// Ping reports whether the store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Dialect() Dialect {
	return r.dialect
}

// WithTx runs fn inside one transaction. Any error from fn rolls it back.
func (r *Repository) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{db: tx, dialect: r.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InDailyTx scopes one tenant's daily aggregation to a transaction.
func (r *Repository) InDailyTx(ctx context.Context, fn func(DailyQuerier) error) error {
	return r.WithTx(ctx, func(q *Queries) error { return fn(q) })
}

// InRollupTx scopes one (tenant, category, period) rollup to a transaction.
func (r *Repository) InRollupTx(ctx context.Context, fn func(RollupQuerier) error) error {
	return r.WithTx(ctx, func(q *Queries) error { return fn(q) })
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against either the pool or an open transaction.
type Queries struct {
	db      dbtx
	dialect Dialect
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

// rebind rewrites ? placeholders to $n for postgres.
func (q *Queries) rebind(query string) string {
	if q.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate locks selected rows on postgres; sqlite already serializes writers.
func (q *Queries) forUpdate() string {
	if q.dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q *Queries) timeArg(t time.Time) any {
	t = wallClock(t)
	if q.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (q *Queries) dateArg(t time.Time) any {
	t = wallClock(t)
	if q.dialect == SQLite {
		return t.Format(dateLayout)
	}
	return t
}

// placeholders returns "?, ?, ?" with n marks.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
