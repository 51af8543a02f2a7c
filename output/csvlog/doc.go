// Package csvlog appends ingested records to a single CSV file shared by all
// connection workers.
//
// Every append runs under one mutex: stat the file, open it in append mode
// (creating it if needed), write the header when the file is missing or
// empty, write the row, flush and close. Holding the lock across the whole
// sequence guarantees exactly one header and whole, non-interleaved rows
// regardless of how many connections write concurrently. Reopening per row
// keeps every accepted record on disk without a separate flush policy.
//
// The file format is:
//
//	Timestamp,SensorType,Value
//	1718000000123,HeartRate,72
//
// Rows end in "\n". Fields are quoted only when encoding/csv needs to.
//
// Write failures are logged with the path and the error, counted, and returned
// as transient errors wrapping errors.ErrStorageUnavailable. The row is lost;
// callers are not expected to log it again.
//
// The file is owned by a single process. Concurrent writers in other processes
// are not coordinated.
package csvlog
