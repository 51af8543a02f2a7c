// Package record decodes extracted frames into sensor records.
package record

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/msjae/bioingest/errors"
)

// DefaultSensorType is used when a frame carries no sensor name.
const DefaultSensorType = "Unknown"

// Field names recognised on the wire, in lookup order.
var (
	valueKeys     = []string{"value", "green"}
	timestampKeys = []string{"timestamp", "timestampNs"}
)

var (
	// ErrMalformed reports a frame that is not a JSON object.
	ErrMalformed = stderrors.New("malformed frame")
	// ErrIncompleteFields reports a frame without a value or a timestamp.
	ErrIncompleteFields = stderrors.New("missing value or timestamp")
)

// Record is one decoded sensor reading. Value and Timestamp hold the decoded
// JSON scalars; numbers are kept as json.Number so their text survives
// unchanged.
type Record struct {
	SensorType string
	Value      any
	Timestamp  any

	// Set by the connection worker, not by Decode.
	ConnectionID string
	ReceivedAt   time.Time
}

// Row is the persisted form of a Record.
type Row struct {
	Timestamp  string
	SensorType string
	Value      string
}

// Header is the first line of every log file.
var Header = []string{"Timestamp", "SensorType", "Value"}

// Fields returns the row in column order.
func (r Row) Fields() []string {
	return []string{r.Timestamp, r.SensorType, r.Value}
}

// Decode parses a frame and resolves the canonical fields. Returned errors
// are classified invalid and wrap ErrMalformed or ErrIncompleteFields.
func Decode(frame string) (Record, error) {
	dec := json.NewDecoder(strings.NewReader(frame))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Record{}, errors.WrapInvalid(fmt.Errorf("%w: %v", ErrMalformed, err),
			"record", "Decode", "parse frame")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, errors.WrapInvalid(fmt.Errorf("%w: trailing data after object", ErrMalformed),
			"record", "Decode", "parse frame")
	}
	if fields == nil {
		return Record{}, errors.WrapInvalid(fmt.Errorf("%w: not an object", ErrMalformed),
			"record", "Decode", "parse frame")
	}

	rec := Record{
		SensorType: DefaultSensorType,
		Value:      lookup(fields, valueKeys),
		Timestamp:  lookup(fields, timestampKeys),
	}
	if sensor, ok := fields["sensor"]; ok && sensor != nil {
		rec.SensorType = Text(sensor)
	}

	if rec.Value == nil || rec.Timestamp == nil {
		return Record{}, errors.WrapInvalid(ErrIncompleteFields, "record", "Decode", "resolve fields")
	}
	return rec, nil
}

// lookup returns the first non-null value stored under one of keys.
func lookup(fields map[string]any, keys []string) any {
	for _, key := range keys {
		if v, ok := fields[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Row renders the record for the log.
func (r Record) Row() Row {
	return Row{
		Timestamp:  Text(r.Timestamp),
		SensorType: r.SensorType,
		Value:      Text(r.Value),
	}
}

// MarshalJSON encodes the record in the envelope used by the forwarding and
// live feed outputs.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sensor       string    `json:"sensor"`
		Value        any       `json:"value"`
		Timestamp    any       `json:"timestamp"`
		ConnectionID string    `json:"connection_id,omitempty"`
		ReceivedAt   time.Time `json:"received_at"`
	}{r.SensorType, r.Value, r.Timestamp, r.ConnectionID, r.ReceivedAt})
}

// Text renders a decoded JSON value as a log cell.
func Text(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case json.Number:
		return tv.String()
	case bool:
		return strconv.FormatBool(tv)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(tv); err != nil {
			return fmt.Sprint(tv)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}
