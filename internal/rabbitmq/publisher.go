package rabbitmq

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/internal/jsoncodec"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
	contentEncoding = "utf-8"
)

// PublishOptions are the optional message properties of Publish.
type PublishOptions struct {
	// Expiration is the per-message TTL. Zero means none; negative is rejected.
	Expiration    time.Duration
	Headers       map[string]any
	ReplyTo       string
	CorrelationID string
	MessageID     string
}

// Publish encodes message and publishes it persistently. Strings and byte
// slices are sent verbatim; anything else is JSON encoded.
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, message any, opts PublishOptions) error {
	if opts.Expiration < 0 {
		return fmt.Errorf("%w: negative expiration %v", ErrInvalidArgument, opts.Expiration)
	}

	msg, err := buildPublishing(message, opts)
	if err != nil {
		return &EncodingError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Stack:      string(debug.Stack()),
			Err:        err,
		}
	}

	err = c.Execute(ctx, func(ch Channel) error {
		return ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	})
	c.metrics.Published(exchange, err)
	if err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	c.logger.Debug("message published",
		"exchange", exchange,
		"routingKey", routingKey,
		"messageId", msg.MessageId)
	return nil
}

func buildPublishing(message any, opts PublishOptions) (amqp.Publishing, error) {
	body, contentType, err := encodeBody(message)
	if err != nil {
		return amqp.Publishing{}, err
	}

	msg := amqp.Publishing{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		DeliveryMode:    amqp.Persistent,
		Timestamp:       time.Now().UTC(),
		MessageId:       opts.MessageID,
		CorrelationId:   opts.CorrelationID,
		ReplyTo:         opts.ReplyTo,
		Headers:         HeaderTable(opts.Headers),
		Body:            body,
	}
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if opts.Expiration > 0 {
		ms := opts.Expiration.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		msg.Expiration = strconv.FormatInt(ms, 10)
	}
	return msg, nil
}

func encodeBody(message any) ([]byte, string, error) {
	var body []byte
	switch m := message.(type) {
	case nil:
		return nil, "", ErrEmptyPayload
	case []byte:
		body = m
	case string:
		body = []byte(m)
	default:
		encoded, err := jsoncodec.Marshal(message)
		if err != nil {
			return nil, "", err
		}
		body = encoded
	}

	if len(body) == 0 || string(body) == "null" {
		return nil, "", ErrEmptyPayload
	}
	if jsoncodec.Valid(body) {
		return body, contentTypeJSON, nil
	}
	return body, contentTypeText, nil
}

// HeaderTable converts headers into a table the AMQP encoder accepts.
func HeaderTable(headers map[string]any) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = tableValue(v)
	}
	return table
}

func tableValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case uint:
		return int64(n)
	case uint16:
		return int32(n)
	case uint32:
		return int64(n)
	case time.Time:
		return n.UTC()
	case map[string]any:
		return HeaderTable(n)
	case fmt.Stringer:
		return n.String()
	}
	return v
}
