package sqlstore

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Open connects to dsn with the named driver ("sqlite", "pgx" or "postgres")
// and returns a ready store.
//
// An SQLite database is limited to a single connection, which serializes all
// access and keeps ":memory:" databases from splitting into one per connection.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s, err := New(ctx, db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
