// Package sensor turns accepted peripheral connections into stored records.
//
// A Server accepts connections from a transport.Listener and starts one
// detached Worker goroutine for each. A Worker owns its connection for the
// connection's whole life:
//
//	read chunk -> UTF-8 check -> framing.Scanner -> record.Decode -> Sink
//
// Frames from one connection reach the Sink in the order they arrived.
// Nothing that goes wrong with a single chunk, frame or record ends the
// connection: invalid UTF-8 discards the buffered text, undecodable frames
// are logged and skipped, and sink failures are left to the sink to report.
// Only a read error, end of stream or a recovered panic ends a Worker, and
// the connection is closed on every one of those paths.
//
// Shutting the Server down stops accepting and closes the listener. Running
// Workers are not cancelled or waited for.
package sensor
