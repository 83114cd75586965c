package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
)

type sentMessage struct {
	exchange   string
	routingKey string
	message    any
	opts       rabbitmq.PublishOptions
}

// stubBroker is an in-memory Broker. respond, when set, is called after every
// publish that carries a reply queue and may deliver replies with reply.
type stubBroker struct {
	mu         sync.Mutex
	sent       []sentMessage
	tempSeq    int
	consumers  map[string]chan amqp.Delivery
	queueOf    map[string]string
	cancelled  []string
	declared   []rabbitmq.QueueDeclaration
	publishErr error
	tempErr    error
	respond    func(b *stubBroker, m sentMessage)
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		consumers: map[string]chan amqp.Delivery{},
		queueOf:   map[string]string{},
	}
}

func (b *stubBroker) Publish(_ context.Context, exchange, routingKey string, message any, opts rabbitmq.PublishOptions) error {
	b.mu.Lock()
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	m := sentMessage{exchange, routingKey, message, opts}
	b.sent = append(b.sent, m)
	respond := b.respond
	b.mu.Unlock()

	if respond != nil && opts.ReplyTo != "" {
		respond(b, m)
	}
	return nil
}

func (b *stubBroker) CreateTemporaryQueue(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tempErr != nil {
		return "", b.tempErr
	}
	b.tempSeq++
	return fmt.Sprintf("amq.gen-%d", b.tempSeq), nil
}

func (b *stubBroker) Consume(_ context.Context, queue, consumerTag string, _ rabbitmq.ConsumeOptions) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan amqp.Delivery, 8)
	b.consumers[consumerTag] = ch
	b.queueOf[queue] = consumerTag
	return ch, nil
}

func (b *stubBroker) Cancel(_ context.Context, consumerTag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, consumerTag)
	if ch, ok := b.consumers[consumerTag]; ok {
		close(ch)
		delete(b.consumers, consumerTag)
	}
	return nil
}

func (b *stubBroker) DeclareQueue(_ context.Context, queue rabbitmq.QueueDeclaration) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, queue)
	return amqp.Queue{Name: queue.Name}, nil
}

// reply delivers body to the consumer of queue, if it is still active.
func (b *stubBroker) reply(queue, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.consumers[b.queueOf[queue]]; ok {
		ch <- amqp.Delivery{RoutingKey: queue, Body: []byte(body)}
	}
}

// closeQueue ends the consumer of queue without a reply.
func (b *stubBroker) closeQueue(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tag := b.queueOf[queue]
	if ch, ok := b.consumers[tag]; ok {
		close(ch)
		delete(b.consumers, tag)
	}
}

func (b *stubBroker) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *stubBroker) cancelledTags() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func (b *stubBroker) activeConsumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}
