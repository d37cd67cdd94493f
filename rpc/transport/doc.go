// Package transport defines how lock service messages travel between client
// and server. A transport moves opaque byte payloads tagged with a shard id;
// encoding is left to the serializer package and dispatch to the rpc/server
// package.
//
// Implementations live in the subpackages http, tcp and unix. tcp and unix
// share the framed connection handling of package base.
package transport
