package internal

import "github.com/ValentinKolb/dLock/lib/lockstore"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGetNamespace     QueryType = iota // Look up a namespace id by uri.
	QueryTGetResource                       // Look up a lock resource by namespace and local name.
	QueryTGetLock                           // Look up a single lock row.
	QueryTGetLocksByShared                  // All lock rows on a set of shared resources.
	QueryTStats                             // Table sizes.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGetNamespace:
		return "GetNamespace"
	case QueryTGetResource:
		return "GetResource"
	case QueryTGetLock:
		return "GetLock"
	case QueryTGetLocksByShared:
		return "GetLocksByShared"
	case QueryTStats:
		return "Stats"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Queries never leave the process, so they are not serialized.
type Query struct {
	Type        QueryType
	Name        string
	NamespaceID int64
	Shared      lockstore.ResourceID
	Exclusive   lockstore.ResourceID
	IDs         []lockstore.ResourceID
}

// NamespaceResult is the result of QueryTGetNamespace.
type NamespaceResult struct {
	ID int64
	Ok bool
}

// Stats is the result of QueryTStats.
type Stats struct {
	Namespaces int
	Resources  int
	Locks      int
}
