// Package natsclient wraps the NATS Go client with circuit breaker protection,
// automatic reconnection and drain-on-close, for publishing ingested records.
//
// The circuit breaker fails fast after a threshold of consecutive connection
// failures (default: 5). The circuit opens, waits for the current backoff, then
// moves back to disconnected so the next Connect may try again. The backoff
// doubles each time the circuit opens, up to a maximum.
//
// Connection states move through Disconnected → Connecting → Connected →
// Reconnecting → Connected. Reconnection itself is handled by nats.go; the
// client tracks state through the nats.go event handlers.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("bioingest"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "bioingest.records.HeartRate", payload)
//
// Publish fails with ErrNotConnected while the connection is down; while
// nats.go is reconnecting it buffers publishes internally.
//
// # Testing
//
// NewTestClient starts a NATS server in a container through testcontainers-go
// and returns a connected Client. It is used by tests tagged "integration".
package natsclient
