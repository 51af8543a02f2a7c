// Package bioingest collects readings from wearable biometric sensors.
//
// Peripherals connect over Bluetooth RFCOMM (the serial port profile) and
// stream concatenated JSON objects such as
//
//	{"sensor":"HeartRate","value":72,"timestamp":1718000000123}
//
// with no delimiter between them. The server splits the stream into objects
// by brace depth, decodes each into a record and appends it to a CSV log
// with the header Timestamp,SensorType,Value. Records can also be forwarded
// to NATS and broadcast to WebSocket dashboards.
//
// # Layout
//
//   - framing: incremental, quote-aware brace-depth frame extraction
//   - record: frame decoding with field fallbacks and CSV row rendering
//   - input/transport: RFCOMM and TCP listeners, service advertisement
//   - input/sensor: per-connection workers and the accept loop
//   - output/csvlog: the durable, mutex-guarded CSV sink
//   - output/natsout: asynchronous NATS republishing through pkg/worker
//   - output/livefeed: WebSocket broadcast of accepted records
//   - natsclient: NATS connection with circuit breaker and reconnect handling
//   - metric, health: Prometheus metrics and health endpoints
//   - config, errors, pkg/retry: configuration, classified errors, backoff
//
// The executable lives in cmd/bioingest.
package bioingest
