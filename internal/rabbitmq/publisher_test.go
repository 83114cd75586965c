package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsquad/eventbus-go/contracts"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("Publishes persistent JSON", func(t *testing.T) {
		conn, ch, _ := newTestConnection()

		err := conn.Publish(ctx, "my_company.event_bus", "user.signed_up",
			contracts.Fields{}.With("user_id", "u1"),
			PublishOptions{Headers: map[string]any{"published_at": "2024-01-01 00:00:00.000000", "attempt": 2}})
		require.NoError(t, err)

		require.Len(t, ch.published, 1)
		p := ch.published[0]
		assert.Equal(t, "my_company.event_bus", p.Exchange)
		assert.Equal(t, "user.signed_up", p.RoutingKey)
		assert.Equal(t, `{"user_id":"u1"}`, string(p.Msg.Body))
		assert.Equal(t, "application/json", p.Msg.ContentType)
		assert.Equal(t, "utf-8", p.Msg.ContentEncoding)
		assert.Equal(t, amqp.Persistent, p.Msg.DeliveryMode)
		assert.Empty(t, p.Msg.Expiration)
		assert.NotEmpty(t, p.Msg.MessageId)
		assert.Equal(t, int64(2), p.Msg.Headers["attempt"])
		assert.Equal(t, "2024-01-01 00:00:00.000000", p.Msg.Headers["published_at"])
	})

	t.Run("Sets expiration in milliseconds", func(t *testing.T) {
		conn, ch, _ := newTestConnection()

		require.NoError(t, conn.Publish(ctx, "ex", "rk", contracts.Fields{}.With("a", 1), PublishOptions{Expiration: 1500 * time.Millisecond}))
		assert.Equal(t, "1500", ch.published[0].Msg.Expiration)
	})

	t.Run("Rejects negative expiration without publishing", func(t *testing.T) {
		conn, ch, dialer := newTestConnection()

		err := conn.Publish(ctx, "ex", "rk", contracts.Fields{}.With("a", 1), PublishOptions{Expiration: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Empty(t, ch.published)
		assert.Equal(t, 0, dialer.calls)
	})

	t.Run("Empty payload is an encoding error", func(t *testing.T) {
		conn, ch, _ := newTestConnection()

		for _, payload := range []any{nil, "", []byte{}} {
			err := conn.Publish(ctx, "ex", "rk", payload, PublishOptions{})

			var encErr *EncodingError
			require.True(t, errors.As(err, &encErr))
			assert.ErrorIs(t, err, ErrEmptyPayload)
			assert.Equal(t, "ex", encErr.Exchange)
			assert.Equal(t, "rk", encErr.RoutingKey)
			assert.NotEmpty(t, encErr.Stack)
			assert.False(t, encErr.IsRetryable())
		}
		assert.Empty(t, ch.published)
	})

	t.Run("Raw strings keep their bytes", func(t *testing.T) {
		conn, ch, _ := newTestConnection()

		require.NoError(t, conn.Publish(ctx, "", "amq.gen-a", "OK", PublishOptions{CorrelationID: "c1"}))
		p := ch.published[0].Msg
		assert.Equal(t, "OK", string(p.Body))
		assert.Equal(t, "text/plain", p.ContentType)
		assert.Equal(t, "c1", p.CorrelationId)
	})

	t.Run("Broker failure is a publish error", func(t *testing.T) {
		conn, ch, _ := newTestConnection()
		ch.publishErr = errors.New("flow control")

		err := conn.Publish(ctx, "ex", "rk", contracts.Fields{}.With("a", 1), PublishOptions{})
		var pubErr *PublishError
		require.True(t, errors.As(err, &pubErr))
		assert.Equal(t, "rk", pubErr.RoutingKey)
	})
}

func TestHeaderTable(t *testing.T) {
	table := HeaderTable(map[string]any{
		"int":    7,
		"nested": map[string]any{"n": uint(3)},
		"s":      "x",
	})

	assert.Equal(t, int64(7), table["int"])
	assert.Equal(t, amqp.Table{"n": int64(3)}, table["nested"])
	assert.Equal(t, "x", table["s"])
	assert.Nil(t, HeaderTable(nil))
}
