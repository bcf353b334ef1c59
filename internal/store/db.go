package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection with sane defaults and pings it. The returned DB is
// usable for Close even when the ping fails.
func NewDB(ctx context.Context, driver, connString string) (*DB, error) {
	switch driver {
	case "", "postgres", DriverPostgres:
		driver = DriverPostgres
	case "sqlite", DriverSQLite:
		driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		connString = withForeignKeys(connString)
	}
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; avoids "database is locked" on concurrent requests
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &DB{Client: db, Driver: driver}, db.PingContext(pingCtx)
}

// withForeignKeys turns on SQLite foreign key enforcement, which is off per
// connection by default.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Healthy verifies the database answers.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
