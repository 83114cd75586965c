package reliability

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
)

type published struct {
	exchange   string
	routingKey string
	message    any
	opts       rabbitmq.PublishOptions
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []published
	exchanges  []rabbitmq.ExchangeDeclaration
	queues     []rabbitmq.QueueDeclaration
	bindings   []rabbitmq.Binding
	ready      []amqp.Delivery
	acked      []uint64
	nacked     []uint64
	purged     int
	publishErr error
	declareErr error
}

func (f *fakeBroker) Publish(_ context.Context, exchange, routingKey string, message any, opts rabbitmq.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange, routingKey, message, opts})
	return nil
}

func (f *fakeBroker) DeclareExchange(_ context.Context, exchange rabbitmq.ExchangeDeclaration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	f.exchanges = append(f.exchanges, exchange)
	return nil
}

func (f *fakeBroker) DeclareQueue(_ context.Context, queue rabbitmq.QueueDeclaration) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.queues = append(f.queues, queue)
	return amqp.Queue{Name: queue.Name}, nil
}

func (f *fakeBroker) BindQueue(_ context.Context, binding rabbitmq.Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, binding)
	return nil
}

func (f *fakeBroker) Get(_ context.Context, _ string) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		return amqp.Delivery{}, false, nil
	}
	msg := f.ready[0]
	f.ready = f.ready[1:]
	return msg, true, nil
}

func (f *fakeBroker) Ack(_ context.Context, tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeBroker) Nack(_ context.Context, tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeBroker) Purge(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.ready)
	f.ready = nil
	f.purged += n
	return n, nil
}

func (f *fakeBroker) Inspect(_ context.Context, queue string) (rabbitmq.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rabbitmq.QueueStats{Name: queue, Messages: len(f.ready)}, nil
}

var (
	_ DeadLetterBroker = (*fakeBroker)(nil)
	_ SchedulerBroker  = (*fakeBroker)(nil)
	_ DeadLetterBroker = (*rabbitmq.Connection)(nil)
	_ SchedulerBroker  = (*rabbitmq.Connection)(nil)
)
