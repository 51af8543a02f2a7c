// Package natsout republishes accepted sensor records to NATS.
//
// The Forwarder sits next to the CSV log as a second sink. Append never
// blocks the calling connection worker: records are handed to a bounded
// worker pool, and a record that does not fit in the queue is dropped and
// counted. Each record is published as a JSON envelope to
//
//	<prefix>.<sensor type>
//
// where the sensor type is reduced to characters that are safe in a NATS
// subject token.
package natsout
