package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/examples/sample"
)

func replyWith(bodies ...string) func(b *stubBroker, m sentMessage) {
	return func(b *stubBroker, m sentMessage) {
		for _, body := range bodies {
			b.reply(m.opts.ReplyTo, body)
		}
	}
}

func TestBus_CallReturnsReply(t *testing.T) {
	broker := newStubBroker()
	broker.respond = replyWith(`{"result":"OK"}`)
	bus := newTestBus(broker)

	cmd := &sample.VideoPermissionChange{VideoID: "v-1", Allowed: true}
	reply, err := bus.Call(context.Background(), "my_company.event_bus", cmd)

	require.NoError(t, err)
	assert.Equal(t, `{"result":"OK"}`, reply)
	assert.Equal(t, "amq.gen-1", cmd.QueueToReply())

	m := broker.messages()[0]
	assert.Equal(t, "video_permission_change", m.routingKey)
	assert.Equal(t, "amq.gen-1", m.opts.ReplyTo)
	assert.NotEmpty(t, m.opts.CorrelationID)
	fields := m.message.(contracts.Fields)
	assert.Equal(t, "amq.gen-1", fields.StringOr("queue_to_reply", ""))

	assert.Len(t, broker.cancelledTags(), 1)
	assert.Zero(t, broker.activeConsumers())
}

func TestBus_CallQueueClosedBeforeReply(t *testing.T) {
	broker := newStubBroker()
	broker.respond = func(b *stubBroker, m sentMessage) { b.closeQueue(m.opts.ReplyTo) }
	bus := newTestBus(broker)

	reply, err := bus.Call(context.Background(), "ex", &sample.VideoPermissionChange{VideoID: "v"})

	assert.ErrorIs(t, err, ErrNoReply)
	assert.Empty(t, reply)
}

func TestBus_CallTimeout(t *testing.T) {
	broker := newStubBroker()
	bus := newTestBus(broker)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	reply, err := bus.Call(ctx, "ex", &sample.VideoPermissionChange{VideoID: "v"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, reply)
	assert.Eventually(t, func() bool { return broker.activeConsumers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_CallSetupFailures(t *testing.T) {
	t.Run("temporary queue", func(t *testing.T) {
		broker := newStubBroker()
		broker.tempErr = errors.New("resource locked")
		bus := newTestBus(broker)

		_, err := bus.Call(context.Background(), "ex", &sample.VideoPermissionChange{})
		assert.ErrorIs(t, err, broker.tempErr)
		assert.Empty(t, broker.messages())
	})

	t.Run("publish", func(t *testing.T) {
		broker := newStubBroker()
		broker.publishErr = errors.New("channel closed")
		bus := newTestBus(broker)

		_, err := bus.CallAsync(context.Background(), "ex", &sample.VideoPermissionChange{})
		assert.ErrorIs(t, err, broker.publishErr)
		assert.Len(t, broker.cancelledTags(), 1)
		assert.Zero(t, broker.activeConsumers())
	})

	t.Run("nil command", func(t *testing.T) {
		bus := newTestBus(newStubBroker())
		_, err := bus.Call(context.Background(), "ex", nil)
		assert.ErrorIs(t, err, ErrNilEvent)
	})
}

func TestBus_CallAsync(t *testing.T) {
	broker := newStubBroker()
	broker.respond = replyWith(`{"result":"OK"}`, `{"result":"LATE"}`)
	bus := newTestBus(broker)

	pending, err := bus.CallAsync(context.Background(), "ex", &sample.VideoPermissionChange{VideoID: "v", Allowed: true})
	require.NoError(t, err)
	defer pending.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"result":"OK"}`, reply)

	select {
	case <-pending.Done():
	default:
		t.Fatal("Done must be closed after the reply")
	}

	again, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, reply, again, "extra replies are ignored")
	assert.Eventually(t, func() bool { return broker.activeConsumers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_CallAsyncRelease(t *testing.T) {
	broker := newStubBroker()
	bus := newTestBus(broker)

	pending, err := bus.CallAsync(context.Background(), "ex", &sample.VideoPermissionChange{VideoID: "v"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pending.Release()
	pending.Release()

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoReply)
	assert.Len(t, broker.cancelledTags(), 1)
}

func TestBus_Reply(t *testing.T) {
	broker := newStubBroker()
	bus := newTestBus(broker)

	cmd := &sample.VideoPermissionChange{}
	cmd.SetQueueToReply("amq.gen-42")

	require.NoError(t, bus.ReplyTo(context.Background(), "ex", cmd, `{"result":"OK"}`))
	m := broker.messages()[0]
	assert.Equal(t, "ex", m.exchange)
	assert.Equal(t, "amq.gen-42", m.routingKey)
	assert.Equal(t, `{"result":"OK"}`, m.message)

	assert.ErrorIs(t, bus.Reply(context.Background(), "ex", "", "x"), ErrNoReplyQueue)
}

func TestBus_RoundTripThroughDispatcher(t *testing.T) {
	broker := newStubBroker()
	bus := newTestBus(broker)
	dispatcher := NewDispatcher(newTestEventMap(t))
	responder := &sample.VideoPermissionResponder{}

	broker.respond = func(b *stubBroker, m sentMessage) {
		body, err := m.message.(contracts.Fields).MarshalJSON()
		if err != nil {
			return
		}
		out := dispatcher.Dispatch(context.Background(), responder, Request{
			Method:     "HandleVideoPermissionChange",
			RoutingKey: m.routingKey,
			Body:       body,
		})
		b.reply(m.opts.ReplyTo, out.Result)
	}

	reply, err := bus.Call(context.Background(), "ex", &sample.VideoPermissionChange{VideoID: "v", Allowed: false})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"DENIED"}`, reply)
}
