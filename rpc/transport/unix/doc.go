// Package unix runs the framed base transport over Unix domain sockets, for
// clients on the same host as the lock server. The endpoint is a socket path;
// a stale socket file left by a previous server is removed before listening.
package unix
