package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumeOptions configures Consume.
type ConsumeOptions struct {
	AutoAck   bool
	Exclusive bool
}

// Consume starts a consumer on queue. The returned channel is closed when the
// consumer is cancelled or the channel closes.
func (c *Connection) Consume(ctx context.Context, queue, consumerTag string, opts ConsumeOptions) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.Execute(ctx, func(ch Channel) error {
		var err error
		deliveries, err = ch.Consume(queue, consumerTag, opts.AutoAck, opts.Exclusive, false, false, nil)
		return err
	})
	if err != nil {
		return nil, &ConsumerError{
			Queue:       queue,
			ConsumerTag: consumerTag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}
	return deliveries, nil
}

// Cancel stops the consumer registered under consumerTag.
func (c *Connection) Cancel(ctx context.Context, consumerTag string) error {
	err := c.Execute(ctx, func(ch Channel) error {
		return ch.Cancel(consumerTag, false)
	})
	if err != nil {
		return &ConsumerError{
			ConsumerTag: consumerTag,
			Op:          "cancel",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}
	return nil
}
