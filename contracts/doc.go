// Package contracts defines the message model shared by publishers, consumers
// and the registry compiler.
//
// The package defines:
//   - Event: a message identified by a routing key and carried as ordered fields
//   - Command: an Event that may carry a reply queue for request/reply
//   - EncryptedEvent: an Event with protected string fields
//   - RenamedEvent: an Event still delivered under older routing keys
//   - Consumer: the capability marking a type as a consumer of events
//
// Payloads are always ordered key/value maps (Fields) so the wire format is
// stable and independent of Go struct layout.
package contracts
