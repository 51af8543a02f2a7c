// Package livefeed broadcasts accepted sensor records to WebSocket clients.
//
// A Hub is an http.Handler. Each upgraded connection gets its own bounded
// send queue and a single writer goroutine, so a slow dashboard only loses
// its own messages and never holds up the connection workers that call
// Append. Messages are text frames carrying the same JSON envelope the NATS
// forwarder publishes:
//
//	{"sensor":"HeartRate","value":72,"timestamp":1718000000123,
//	 "connection_id":"...","received_at":"2026-01-02T03:04:05Z"}
//
// Clients are not expected to send anything. Incoming frames are read and
// discarded so that control frames (pong, close) are processed.
package livefeed
