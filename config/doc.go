// Package config provides configuration loading for the bioingest server.
//
// Configuration is assembled in layers:
//
//  1. Built-in defaults (RFCOMM on any free channel, sensor_data.csv, 1024-byte reads)
//  2. Zero or more JSON or YAML files, deep-merged in order
//  3. BIOINGEST_* environment variables
//
// Only keys present in a file override the previous layer, so a file that sets
// just sink.path keeps every other default.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/bioingest.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Durations may be written as Go duration strings ("2s", "500ms") in files.
//
// # Environment Variables
//
//	BIOINGEST_TRANSPORT_KIND        rfcomm | tcp
//	BIOINGEST_TRANSPORT_CHANNEL     RFCOMM channel (0 = any free channel)
//	BIOINGEST_TRANSPORT_ADDRESS     TCP listen address
//	BIOINGEST_SINK_PATH             CSV log path
//	BIOINGEST_READER_READ_SIZE      bytes per read
//	BIOINGEST_READER_MAX_PENDING    unterminated frame limit in bytes (0 = unlimited)
//	BIOINGEST_NATS_ENABLED          forward records to NATS
//	BIOINGEST_NATS_URLS             comma separated server URLs
//	BIOINGEST_NATS_SUBJECT_PREFIX   subject prefix for forwarded records
//	BIOINGEST_NATS_USERNAME / _PASSWORD / _TOKEN
//	BIOINGEST_METRICS_ENABLED       serve /metrics and /health
//	BIOINGEST_METRICS_ADDRESS       metrics listen address
//	BIOINGEST_LIVE_FEED_ENABLED     serve the WebSocket live feed
package config
