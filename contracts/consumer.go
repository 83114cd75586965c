package contracts

// DefaultProfile is the broker profile used by consumers that do not declare one.
const DefaultProfile = "default"

// Consumer marks a type whose Listen*/Handle* methods receive events.
// Embed BaseConsumer to implement it.
type Consumer interface {
	eventBusConsumer()
}

// BaseConsumer implements Consumer.
type BaseConsumer struct{}

func (BaseConsumer) eventBusConsumer() {}

// Profiled consumers run against a named broker profile instead of DefaultProfile.
type Profiled interface {
	AMQPProfile() string
}

// Configurable consumers supply per-method handler overrides keyed by method name.
// ConsumerConfig is called on a zero value.
type Configurable interface {
	ConsumerConfig() map[string]HandlerConfig
}

// Unserializer selects how a delivery body reaches the handler.
type Unserializer string

const (
	// UnserializeEvent decodes the body into the handler's event parameter.
	UnserializeEvent Unserializer = "event"
	// UnserializeRaw passes the body through untouched.
	UnserializeRaw Unserializer = "raw"
)

// HandlerConfig overrides what discovery derives for one handler method.
// Zero values fall back to the derived defaults.
type HandlerConfig struct {
	// Manual skips parameter inspection: RoutingKeys, Queue, Exchange and the
	// declaration flags are used verbatim.
	Manual       bool
	Unserializer Unserializer

	AMQP        string
	Name        string
	RoutingKeys []string
	Unique      bool
	URL         string
	Queue       string
	// Exchange is a pointer so that an explicit empty (default) exchange can be set.
	Exchange    *string
	Function    string
	CreateQueue *bool
	Workers     int

	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Args       Args
}

// String returns a pointer to s, for HandlerConfig.Exchange.
func String(s string) *string {
	return &s
}

// Bool returns a pointer to b, for HandlerConfig.CreateQueue.
func Bool(b bool) *bool {
	return &b
}

// Arg is a typed broker argument as stored in the consumer config artifact.
type Arg struct {
	Type string `json:"type"`
	Val  any    `json:"val"`
}

// Args are queue declaration arguments keyed by broker argument name.
type Args map[string]Arg

// IntArg returns an integer argument.
func IntArg(v int64) Arg {
	return Arg{Type: "int", Val: v}
}

// StringArg returns a string argument.
func StringArg(v string) Arg {
	return Arg{Type: "string", Val: v}
}

// DefaultQueueArgs are applied to every generated consumer queue.
func DefaultQueueArgs() Args {
	return Args{
		"x-expires":   IntArg(300000),
		"x-ha-policy": StringArg("all"),
	}
}
