package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamsquad/eventbus-go/catalog"
	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/reliability"
	"github.com/teamsquad/eventbus-go/serialization"
)

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// Request is one delivery addressed to a handler method.
type Request struct {
	Method     string
	MessageID  string
	Queue      string
	RoutingKey string
	Body       []byte
	Headers    map[string]any
	// PublishedAt falls back to the published_at header, then to the clock.
	PublishedAt string
}

// Outcome is what Dispatch decided for a delivery.
type Outcome struct {
	// Result is the handler's stringified return value.
	Result   string
	Decision reliability.Decision
	// Scheduled is set when a retry was handed to the RetryScheduler.
	Scheduled bool
}

// Ack reports whether the delivery should be acknowledged. Only a retry that
// was not scheduled elsewhere needs the broker to redeliver it.
func (o Outcome) Ack() bool {
	return o.Decision.Action != reliability.ActionRetry || o.Scheduled
}

// Dispatcher invokes consumer handler methods for deliveries.
type Dispatcher struct {
	events     *serialization.EventMap
	encrypter  contracts.StringEncrypt
	clock      Clock
	logger     *slog.Logger
	failures   *reliability.FailureHandler
	scheduler  *reliability.RetryScheduler
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherClock sets the clock used when no publish time is known.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherEncrypter decrypts protected fields of decoded events with
// enc instead of the event map's own encrypter.
func WithDispatcherEncrypter(enc contracts.StringEncrypt) DispatcherOption {
	return func(d *Dispatcher) {
		d.encrypter = enc
	}
}

// WithFailureHandler sets the handler deciding retries and dead-lettering.
func WithFailureHandler(h *reliability.FailureHandler) DispatcherOption {
	return func(d *Dispatcher) {
		if h != nil {
			d.failures = h
		}
	}
}

// WithRetryScheduler parks retried deliveries in delay queues.
func WithRetryScheduler(s *reliability.RetryScheduler) DispatcherOption {
	return func(d *Dispatcher) {
		d.scheduler = s
	}
}

// WithDispatcherTracerProvider sets the provider for consumer spans.
func WithDispatcherTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithDispatcherPropagator sets how trace context is read from headers.
func WithDispatcherPropagator(p propagation.TextMapPropagator) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.propagator = p
		}
	}
}

// NewDispatcher creates a dispatcher decoding events through events.
func NewDispatcher(events *serialization.EventMap, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		events:     events,
		clock:      SystemClock{},
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
	}

	for _, opt := range options {
		opt(d)
	}

	if d.failures == nil {
		d.failures = reliability.NewFailureHandler(nil, reliability.WithFailureLogger(d.logger))
	}

	return d
}

// ParseRequest decodes body for controller's method and calls it. Handlers
// configured as raw, or taking a string or []byte, get the body untouched;
// the rest get a fresh event for routingKey. A string result is returned as
// is, []byte and fmt.Stringer results are converted, anything else yields "".
// A returned error or a panic is reported as the error.
func (d *Dispatcher) ParseRequest(ctx context.Context, controller any, method, routingKey string, body []byte, publishedAt string) (result string, err error) {
	v := reflect.ValueOf(controller)
	if !v.IsValid() {
		return "", &HandlerError{Controller: "<nil>", Method: method, Err: ErrHandlerNotFound}
	}
	name := controllerName(v.Type())

	m, ok := v.Type().MethodByName(method)
	if !ok {
		return "", &HandlerError{Controller: name, Method: method, Err: ErrHandlerNotFound}
	}
	h, err := catalog.Handler(m)
	if err != nil {
		return "", &HandlerError{Controller: name, Method: method, Err: fmt.Errorf("%w: %w", ErrInvalidHandler, err)}
	}

	payload, err := d.payload(controller, h, routingKey, body)
	if err != nil {
		return "", err
	}

	args := make([]reflect.Value, 0, 4)
	args = append(args, v)
	if h.Context {
		if ctx == nil {
			ctx = context.Background()
		}
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, payload)
	if h.PublishedAt {
		if publishedAt == "" {
			publishedAt = FormatPublishedAt(d.clock.Now())
		}
		args = append(args, reflect.ValueOf(publishedAt).Convert(m.Type.In(len(args))))
	}

	defer func() {
		if r := recover(); r != nil {
			result = ""
			err = &reliability.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	return results(m.Func.Call(args))
}

func (d *Dispatcher) payload(controller any, h catalog.HandlerMethod, routingKey string, body []byte) (reflect.Value, error) {
	raw := isRawType(h.Payload)
	if cfg, ok := controller.(contracts.Configurable); ok {
		if c, ok := cfg.ConsumerConfig()[h.Name]; ok && c.Unserializer == contracts.UnserializeRaw {
			if !raw {
				return reflect.Value{}, &HandlerError{
					Controller: controllerName(reflect.TypeOf(controller)),
					Method:     h.Name,
					Err:        fmt.Errorf("%w: raw unserializer needs a string or []byte parameter, got %s", ErrInvalidHandler, h.Payload),
				}
			}
		}
	}

	if raw {
		if h.Payload.Kind() == reflect.String {
			return reflect.ValueOf(string(body)).Convert(h.Payload), nil
		}
		return reflect.ValueOf(body).Convert(h.Payload), nil
	}

	if d.events == nil {
		return reflect.Value{}, &HandlerError{
			Controller: controllerName(reflect.TypeOf(controller)),
			Method:     h.Name,
			Err:        fmt.Errorf("%w: no event map configured", ErrInvalidHandler),
		}
	}
	ev, err := d.events.DecodeWith(routingKey, body, d.encrypter)
	if err != nil {
		return reflect.Value{}, err
	}

	value := reflect.ValueOf(ev)
	if !value.Type().AssignableTo(h.Payload) {
		return reflect.Value{}, &HandlerError{
			Controller: controllerName(reflect.TypeOf(controller)),
			Method:     h.Name,
			Err:        fmt.Errorf("%w: %s decodes to %s, handler takes %s", ErrInvalidHandler, routingKey, value.Type(), h.Payload),
		}
	}
	return value, nil
}

// Dispatch runs req through ParseRequest and always returns a decision. A
// retry decision is handed to the RetryScheduler when one is configured.
func (d *Dispatcher) Dispatch(ctx context.Context, controller any, req Request) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = d.propagator.Extract(ctx, headerCarrier(req.Headers))
	ctx, span := d.tracer.Start(ctx, "process "+req.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(messagingAttributes(req.Queue, req.RoutingKey)...))
	defer span.End()

	publishedAt := req.PublishedAt
	if publishedAt == "" {
		publishedAt = headerCarrier(req.Headers).Get(HeaderPublishedAt)
	}

	result, err := d.ParseRequest(ctx, controller, req.Method, req.RoutingKey, req.Body, publishedAt)
	if err == nil {
		return Outcome{Result: result, Decision: d.failures.Succeeded(ctx, req.MessageID)}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.logger.Warn("handler failed",
		"method", req.Method,
		"messageId", req.MessageID,
		"queue", req.Queue,
		"routingKey", req.RoutingKey,
		"error", err)

	out := Outcome{Decision: d.failures.Failed(ctx, reliability.Failure{
		MessageID:  req.MessageID,
		Queue:      req.Queue,
		RoutingKey: req.RoutingKey,
		Body:       req.Body,
		Headers:    req.Headers,
		Err:        err,
	})}

	if out.Decision.Action == reliability.ActionRetry && d.scheduler != nil && req.Queue != "" {
		serr := d.scheduler.Schedule(ctx, reliability.Redelivery{
			MessageID: req.MessageID,
			Queue:     req.Queue,
			Body:      req.Body,
			Headers:   req.Headers,
			Attempt:   out.Decision.Attempt,
			Delay:     out.Decision.Delay,
		})
		if serr != nil {
			d.logger.Error("failed to schedule retry, leaving it to the broker", "messageId", req.MessageID, "error", serr)
		} else {
			out.Scheduled = true
		}
	}
	return out
}

// DispatchDelivery dispatches a broker delivery received on queue.
func (d *Dispatcher) DispatchDelivery(ctx context.Context, controller any, method, queue string, msg amqp.Delivery) Outcome {
	return d.Dispatch(ctx, controller, Request{
		Method:     method,
		MessageID:  msg.MessageId,
		Queue:      queue,
		RoutingKey: msg.RoutingKey,
		Body:       msg.Body,
		Headers:    map[string]any(msg.Headers),
	})
}

func isRawType(t reflect.Type) bool {
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func controllerName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return catalog.TypeName(t)
}

func results(out []reflect.Value) (string, error) {
	var (
		result string
		seen   bool
		err    error
	)
	for _, o := range out {
		if o.Type().Implements(errorType) && o.Type().Kind() == reflect.Interface {
			if !o.IsNil() {
				err = o.Interface().(error)
			}
			continue
		}
		if !seen {
			result = stringify(o)
			seen = true
		}
	}
	return result, err
}

func stringify(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes())
		}
		return ""
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return ""
		}
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String()
	}
	if v.Kind() == reflect.Interface {
		return stringify(v.Elem())
	}
	return ""
}
