// Package sqlstore implements lockstore.IStore on a relational database through
// database/sql. Queries are built with goqu for the "sqlite3" and "postgres"
// dialects; supported drivers are modernc.org/sqlite ("sqlite"),
// github.com/jackc/pgx/v5/stdlib ("pgx") and github.com/lib/pq ("postgres").
//
// Tables:
//
//	dlock_namespace      (id, uri)                                   unique uri
//	dlock_lock_resource  (id, version, namespace_id, local_name)     unique (namespace_id, local_name)
//	dlock_lock           (shared_resource_id, exclusive_resource_id,
//	                      version, lock_token, start_time, expiry_time)
//	                                                                 primary key (shared, exclusive)
//
// Times are stored as unix milliseconds. Uniqueness violations of the driver in
// use are mapped to RetCResourceAlreadyExists and RetCConcurrentCreate, and an
// update whose version check matches no row yields RetCConcurrencyFailure.
//
// Store also implements lockstore.ITransactor. Inserts inside a transaction run
// in a savepoint, so a lost creation race does not abort the transaction on
// PostgreSQL.
package sqlstore
