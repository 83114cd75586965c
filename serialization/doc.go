// Package serialization maps routing keys to event types and turns wire
// payloads into typed events.
//
// The EventMap is built from a catalog by inspecting every Event type, or
// loaded from a previously saved artifact. Protected fields of encrypted
// events are transformed with a contracts.StringEncrypt on the way out and
// back in.
package serialization
