// Package redisstore implements lockstore.IStore on Redis using go-redis.
//
// Unique creation of namespaces and resources relies on HSETNX. Lock rows are
// hashes; creating and updating them happens under WATCH inside a MULTI block,
// so a concurrent writer turns into RetCConcurrentCreate or
// RetCConcurrencyFailure. Secondary sets index rows by shared and by exclusive
// resource id for the bulk read and the bulk update.
//
// The store does not implement lockstore.ITransactor.
package redisstore
