// Package base holds the connection handling shared by the tcp and unix
// transports. A protocol package only supplies a connector that dials, listens
// and tunes sockets.
//
// Every request travels as one frame:
//
//	shardID (8) | requestID (8) | length (4) | payload
//
// The client keeps a pool of connections per endpoint, picks one round robin
// and matches responses to callers by request id, so many requests can be in
// flight on a single connection. A failed connection fails its pending
// requests and is redialed; Send retries failed requests with
// exponential backoff.
//
// The server reads frames sequentially and handles up to WorkersPerConn of
// them concurrently per connection. Responses may therefore return out of
// order. Close stops accepting, closes open connections and makes Listen
// return nil.
package base
