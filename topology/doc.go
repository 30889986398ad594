// Package topology maps logical message types to broker routing entities.
//
// A RoutingTopology turns a message type and an intent (send vs publish) into
// the exchange, routing key, and queue to use, and produces the set of
// declarations an endpoint creates at startup. Two interchangeable strategies
// are provided:
//   - Conventional: one queue per endpoint paired with a same-named fanout
//     exchange, plus one fanout exchange per message type
//   - Direct: a single shared topic exchange with routing keys computed from
//     the message type
//
// Topologies are pure mapping logic with no broker I/O. A strategy is chosen
// once at configuration time and fixed for the process lifetime.
package topology
