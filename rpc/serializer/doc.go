// Package serializer encodes the messages of the lock service RPC protocol.
// Three implementations of IRPCSerializer exist and are selected by name with
// the --serializer flag:
//
//   - binary: a compact format. A type byte and a flag byte say which fields
//     follow, so absent fields cost nothing; a release reply is two bytes.
//   - json: readable payloads, e.g. for calling the http transport with curl.
//     Message types are written by name.
//   - gob: encoding/gob with a fresh encoder per message. Payloads are the
//     largest of the three.
//
// Every Deserialize resets the target message first, so a message value can be
// reused across calls. All implementations are stateless and safe for
// concurrent use.
//
// Lock rows returned by status requests travel in Message.Value in the
// encoding of lockstore.EncodeLocks, independent of the serializer.
package serializer
