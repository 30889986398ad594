// Package rabbitmq is the broker-facing core of the wirebus transport.
//
// This package includes:
//   - ConnectionManager: owns the single connection, its channel pool, and
//     the recovery state machine guarded by a grace-period circuit breaker
//   - Dispatcher: publishes outgoing messages with optional publisher
//     confirms correlated per channel
//   - Declarer: applies a routing topology's exchanges, queues, and bindings
//   - Consumer: the receive pump with bounded handler concurrency and
//     manual acknowledgment
//
// Failures are classified into a small taxonomy: configuration conflicts are
// fatal and never retried, connection loss is absorbed by recovery until the
// circuit breaker trips, and an unconfirmed publish on a dying channel is
// reported as indeterminate rather than guessed at.
package rabbitmq
