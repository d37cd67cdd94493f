package sqlstore

import (
	"context"
	"fmt"
)

const (
	tableNamespace = "dlock_namespace"
	tableResource  = "dlock_lock_resource"
	tableLock      = "dlock_lock"
)

// Dialect names accepted by New. They match the goqu dialect names.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

var schemas = map[string][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS dlock_namespace (
			id  INTEGER PRIMARY KEY AUTOINCREMENT,
			uri VARCHAR(100) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS dlock_lock_resource (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			version      BIGINT NOT NULL,
			namespace_id BIGINT NOT NULL REFERENCES dlock_namespace (id),
			local_name   VARCHAR(255) NOT NULL,
			UNIQUE (namespace_id, local_name)
		)`,
		`CREATE TABLE IF NOT EXISTS dlock_lock (
			shared_resource_id    BIGINT NOT NULL REFERENCES dlock_lock_resource (id),
			exclusive_resource_id BIGINT NOT NULL REFERENCES dlock_lock_resource (id),
			version               BIGINT NOT NULL,
			lock_token            VARCHAR(36) NOT NULL,
			start_time            BIGINT NOT NULL,
			expiry_time           BIGINT NOT NULL,
			PRIMARY KEY (shared_resource_id, exclusive_resource_id)
		)`,
		`CREATE INDEX IF NOT EXISTS dlock_lock_exclusive_idx ON dlock_lock (exclusive_resource_id, lock_token)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS dlock_namespace (
			id  BIGSERIAL PRIMARY KEY,
			uri VARCHAR(100) NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS dlock_lock_resource (
			id           BIGSERIAL PRIMARY KEY,
			version      BIGINT NOT NULL,
			namespace_id BIGINT NOT NULL REFERENCES dlock_namespace (id),
			local_name   VARCHAR(255) NOT NULL,
			UNIQUE (namespace_id, local_name)
		)`,
		`CREATE TABLE IF NOT EXISTS dlock_lock (
			shared_resource_id    BIGINT NOT NULL REFERENCES dlock_lock_resource (id),
			exclusive_resource_id BIGINT NOT NULL REFERENCES dlock_lock_resource (id),
			version               BIGINT NOT NULL,
			lock_token            VARCHAR(36) NOT NULL,
			start_time            BIGINT NOT NULL,
			expiry_time           BIGINT NOT NULL,
			PRIMARY KEY (shared_resource_id, exclusive_resource_id)
		)`,
		`CREATE INDEX IF NOT EXISTS dlock_lock_exclusive_idx ON dlock_lock (exclusive_resource_id, lock_token)`,
	},
}

// createSchema creates the three lock tables if they do not exist yet.
func createSchema(ctx context.Context, q querier, dialect string) error {
	stmts, ok := schemas[dialect]
	if !ok {
		return fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
