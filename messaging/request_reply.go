package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
)

const (
	rpcModeSync  = "sync"
	rpcModeAsync = "async"
)

// PendingReply is a request whose reply has not been read yet. Only the first
// message on the reply queue counts; the consumer is cancelled as soon as it
// arrives and anything after it is discarded.
type PendingReply struct {
	CorrelationID string
	Queue         string

	done    chan struct{}
	body    string
	err     error
	release func()
}

// Wait blocks until the reply arrives or ctx ends. After a reply Wait always
// returns the same result. A reply queue that closes first yields ErrNoReply.
func (p *PendingReply) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.body, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the reply, or the end of the reply queue, was seen.
func (p *PendingReply) Done() <-chan struct{} {
	return p.done
}

// Release cancels the reply consumer. Callers that stop waiting must call it,
// otherwise the queue lives until the connection closes. It is idempotent.
func (p *PendingReply) Release() {
	p.release()
}

// Call publishes cmd with a fresh temporary reply queue and blocks until the
// reply arrives, the queue closes or ctx ends.
func (b *Bus) Call(ctx context.Context, exchange string, cmd contracts.Command, options ...PublishOption) (string, error) {
	p, err := b.call(ctx, exchange, cmd, rpcModeSync, options)
	if err != nil {
		return "", err
	}
	defer p.Release()
	return p.Wait(ctx)
}

// CallAsync is Call without the wait. The caller owns the returned reply and
// applies its own timeout through Wait.
func (b *Bus) CallAsync(ctx context.Context, exchange string, cmd contracts.Command, options ...PublishOption) (*PendingReply, error) {
	return b.call(ctx, exchange, cmd, rpcModeAsync, options)
}

func (b *Bus) call(ctx context.Context, exchange string, cmd contracts.Command, mode string, options []PublishOption) (_ *PendingReply, err error) {
	if cmd == nil {
		return nil, ErrNilEvent
	}
	started := time.Now()

	ctx, span := b.tracer.Start(ctx, "rpc "+cmd.EventName(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(messagingAttributes(exchange, cmd.EventName())...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.metrics.RPC(mode, started, err)
		}
		span.End()
	}()

	queue, err := b.broker.CreateTemporaryQueue(ctx, exchange)
	if err != nil {
		return nil, err
	}

	tag := "rpc-" + uuid.NewString()
	deliveries, err := b.broker.Consume(ctx, queue, tag, rabbitmq.ConsumeOptions{AutoAck: true, Exclusive: true})
	if err != nil {
		return nil, err
	}

	cleanupCtx := context.WithoutCancel(ctx)
	var once sync.Once
	p := &PendingReply{
		CorrelationID: uuid.NewString(),
		Queue:         queue,
		done:          make(chan struct{}),
	}
	p.release = func() {
		once.Do(func() {
			if err := b.broker.Cancel(cleanupCtx, tag); err != nil {
				b.logger.Warn("failed to cancel reply consumer", "queue", queue, "error", err)
			}
		})
	}

	cmd.SetQueueToReply(queue)

	opts := PublishOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	opts.replyTo = queue
	opts.correlationID = p.CorrelationID

	if err = b.publish(ctx, exchange, cmd, opts); err != nil {
		p.release()
		return nil, err
	}

	b.logger.Debug("rpc request sent",
		"exchange", exchange,
		"routingKey", cmd.EventName(),
		"replyQueue", queue,
		"correlationId", p.CorrelationID)

	go b.awaitReply(p, deliveries, mode, started)
	return p, nil
}

func (b *Bus) awaitReply(p *PendingReply, deliveries <-chan amqp.Delivery, mode string, started time.Time) {
	msg, ok := <-deliveries
	if ok {
		p.body = string(msg.Body)
	} else {
		p.err = ErrNoReply
	}
	close(p.done)
	b.metrics.RPC(mode, started, p.err)

	if !ok {
		return
	}
	b.logger.Debug("rpc reply received", "queue", p.Queue, "correlationId", p.CorrelationID)

	p.release()
	for range deliveries {
	}
}

// Reply answers a request on replyQueue. The temporary queue is bound to
// exchange under its own name, so the queue name is the routing key.
func (b *Bus) Reply(ctx context.Context, exchange, replyQueue, body string) error {
	if replyQueue == "" {
		return ErrNoReplyQueue
	}
	return b.broker.Publish(ctx, exchange, replyQueue, body, rabbitmq.PublishOptions{})
}

// ReplyTo answers cmd on the queue its caller attached.
func (b *Bus) ReplyTo(ctx context.Context, exchange string, cmd contracts.Command, body string) error {
	return b.Reply(ctx, exchange, cmd.QueueToReply(), body)
}
