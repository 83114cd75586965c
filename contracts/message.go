package contracts

// Event is a message identified by its routing key. Implementations must be
// constructible from their zero value: EventName is called on a zero value
// during discovery and FromArray on a freshly allocated one during decoding.
type Event interface {
	// EventName returns the routing key. It must not depend on field values.
	EventName() string
	// ToArray returns the payload as ordered fields.
	ToArray() Fields
	// FromArray populates the event from a payload.
	FromArray(fields Fields) error
}

// Command is an Event used for request/reply.
type Command interface {
	Event
	SetQueueToReply(queue string)
	QueueToReply() string
}

// EncryptedEvent declares payload fields that are encrypted on the wire.
// Only non-empty string values of the listed fields are transformed.
type EncryptedEvent interface {
	Event
	ProtectedFields() []string
}

// RenamedEvent is delivered under its current routing key and under every
// routing key it was previously published with.
type RenamedEvent interface {
	Event
	RenamedFrom() []string
}

// StringEncrypt is a reversible string transformation applied to protected fields.
type StringEncrypt interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipher string) (string, error)
}
