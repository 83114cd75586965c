// Package messaging moves events and commands across the broker.
//
// The package provides:
//   - Bus: publishes events with protected-field encryption, a published_at
//     header and trace context propagation
//   - Call / CallAsync: request/reply over a temporary, exclusive reply queue
//   - Reply: answers a command on the queue its caller created
//   - Dispatcher: the per-message entry point that decodes a delivery into the
//     handler's parameter, invokes the handler and turns the outcome into a
//     reliability.Decision
//
// Example usage:
//
//	conn := rabbitmq.NewConnection(creds)
//	bus := messaging.NewBus(conn, messaging.WithEncrypter(enc))
//
//	err := bus.Publish(ctx, "my_company.event_bus", &sample.UserSignedUp{UserID: "42"})
//
//	reply, err := bus.Call(ctx, "my_company.event_bus", &sample.VideoPermissionChange{VideoID: "v-1"})
//
// A Bus is safe for concurrent use; every broker operation is serialized on
// the connection's channel.
package messaging
