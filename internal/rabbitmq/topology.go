package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/contracts"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// QueueStats is the broker's view of a queue.
type QueueStats struct {
	Name      string
	Messages  int
	Consumers int
}

// DeclareExchange declares a single exchange
func (c *Connection) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	err := c.Execute(ctx, func(ch Channel) error {
		return ch.ExchangeDeclare(exchange.Name, exchange.Type, exchange.Durable, exchange.AutoDelete, false, false, exchange.Arguments)
	})
	if err != nil {
		return topologyError("exchange", exchange.Name, "declare", err)
	}
	return nil
}

// DeclareQueue declares a single queue
func (c *Connection) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := c.Execute(ctx, func(ch Channel) error {
		var err error
		q, err = ch.QueueDeclare(queue.Name, queue.Durable, queue.AutoDelete, queue.Exclusive, false, queue.Arguments)
		return err
	})
	if err != nil {
		return q, topologyError("queue", queue.Name, "declare", err)
	}
	return q, nil
}

// BindQueue creates a queue binding
func (c *Connection) BindQueue(ctx context.Context, binding Binding) error {
	err := c.Execute(ctx, func(ch Channel) error {
		return ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil)
	})
	if err != nil {
		return topologyError("binding", binding.Queue+"->"+binding.Exchange, "create", err)
	}
	return nil
}

// CreateTemporaryQueue declares a server-named, exclusive, auto-delete queue
// and binds it to exchange under its own name, so replies can be published
// to exchange with the queue name as routing key.
func (c *Connection) CreateTemporaryQueue(ctx context.Context, exchange string) (string, error) {
	var name string
	err := c.Execute(ctx, func(ch Channel) error {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return err
		}
		if q.Name == "" {
			return fmt.Errorf("broker returned an empty queue name")
		}
		name = q.Name
		// The default exchange already routes by queue name and refuses bindings.
		if exchange == "" {
			return nil
		}
		return ch.QueueBind(q.Name, q.Name, exchange, false, nil)
	})
	if err != nil {
		return "", topologyError("queue", "temporary@"+exchange, "create", fmt.Errorf("%w: %w", ErrTemporaryQueue, err))
	}

	c.logger.Debug("temporary queue created", "queue", name, "exchange", exchange)
	return name, nil
}

// Get fetches one message from queue without acknowledging it.
func (c *Connection) Get(ctx context.Context, queue string) (amqp.Delivery, bool, error) {
	var (
		msg amqp.Delivery
		ok  bool
	)
	err := c.Execute(ctx, func(ch Channel) error {
		var err error
		msg, ok, err = ch.Get(queue, false)
		return err
	})
	return msg, ok, err
}

// Ack acknowledges a delivery fetched on this connection's channel.
func (c *Connection) Ack(ctx context.Context, tag uint64) error {
	return c.Execute(ctx, func(ch Channel) error {
		return ch.Ack(tag, false)
	})
}

// Nack rejects a delivery, returning it to its queue when requeue is set.
func (c *Connection) Nack(ctx context.Context, tag uint64, requeue bool) error {
	return c.Execute(ctx, func(ch Channel) error {
		return ch.Nack(tag, false, requeue)
	})
}

// Purge removes every ready message from queue and returns how many were removed.
func (c *Connection) Purge(ctx context.Context, queue string) (int, error) {
	var n int
	err := c.Execute(ctx, func(ch Channel) error {
		var err error
		n, err = ch.QueuePurge(queue, false)
		return err
	})
	return n, err
}

// Inspect returns message and consumer counts of an existing queue.
func (c *Connection) Inspect(ctx context.Context, queue string) (QueueStats, error) {
	var q amqp.Queue
	err := c.Execute(ctx, func(ch Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(queue, false, false, false, false, nil)
		return err
	})
	if err != nil {
		return QueueStats{}, topologyError("queue", queue, "inspect", err)
	}
	return QueueStats{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// ArgsTable converts typed consumer arguments into queue declaration arguments.
func ArgsTable(args contracts.Args) amqp.Table {
	if len(args) == 0 {
		return nil
	}
	table := make(amqp.Table, len(args))
	for k, arg := range args {
		if arg.Type == "int" {
			if n, ok := toInt64(arg.Val); ok {
				table[k] = n
				continue
			}
		}
		table[k] = tableValue(arg.Val)
	}
	return table
}

func toInt64(v any) (int64, bool) {
	n, err := contracts.Fields{}.With("v", v).Int("v")
	return n, err == nil
}

func topologyError(component, name, op string, err error) error {
	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Err:       fmt.Errorf("%w: %w", ErrTopologyDeclarationFailed, err),
		Timestamp: time.Now(),
	}
}
