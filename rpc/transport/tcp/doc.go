// Package tcp runs the framed base transport over TCP. Endpoints are host:port
// pairs. Socket buffers, keep-alive, Nagle and linger follow the Transport
// section of the client and server config.
//
// The server reads frames into pooled 64 KB buffers by default, which hold the
// status reply of any realistic lock hierarchy; NewTCPServerTransport takes a
// different size.
package tcp
