// Package http carries lock service messages as HTTP POST requests. The shard
// id is the last path segment (POST /<shardId>) and the body is the serialized
// message, so a server can be exercised with curl and the json serializer.
//
// The client rotates over the configured endpoints and retries a failed request
// on the next one. The server caps request bodies at 1 MB.
package http
