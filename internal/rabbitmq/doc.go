// Package rabbitmq owns the broker connection used by the event bus.
//
// This package includes:
//   - Connection: lazy connect with bounded attempts, a single QoS-limited
//     channel and serialized access to it
//   - Publish: JSON publishing with persistent delivery and optional expiration
//   - Temporary queues for request/reply
//   - Topology and admin operations used by the dead-letter router
package rabbitmq
