package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"maaspace/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect normalises driver aliases.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", name)
}

// DBTX is the subset of database/sql shared by DB and transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps *sql.DB and rewrites "?" placeholders for the active dialect,
// so queries are written once for every driver.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Wrap adopts an already opened handle (sqlmock in tests).
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.dialect.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.dialect.Rebind(query), args...)
}

type txHandle struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t txHandle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t txHandle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

func (t txHandle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ctx, txHandle{tx: tx, dialect: db.dialect})
}

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dialect, err := ParseDialect(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		dbCfg, ok = cfg.Databases[string(dialect)]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var db *sql.DB
	switch dialect {
	case SQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// A single connection keeps ":memory:" databases shared and avoids
		// writer lock contention.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case MySQL:
		params := dbCfg.Params
		if !strings.Contains(params, "parseTime") {
			if params != "" {
				params += "&"
			}
			params += "parseTime=true"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case Postgres:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn must be provided")
		}
		db, err = sql.Open("pgx", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, dialect: dialect}, nil
}
