// Package contracts defines the transport-level message types exchanged
// through wirebus.
//
// This package carries no broker dependencies. It defines:
//   - OutgoingMessage: an opaque message body plus delivery options and headers
//   - Headers: an insertion-ordered string-to-string header mapping
//   - DeliveryEnvelope: the read-only view of an incoming delivery
//   - MessageIDStrategy: pluggable derivation of message identity on receive
//
// Message bodies are opaque byte slices; serialization of application payloads
// happens outside the transport.
package contracts
