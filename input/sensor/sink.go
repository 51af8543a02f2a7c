package sensor

import (
	"context"
	stderrors "errors"

	"github.com/msjae/bioingest/record"
)

// Sink receives decoded records. Implementations must be safe for concurrent
// use; every Worker shares the same Sink.
type Sink interface {
	Append(ctx context.Context, rec record.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec record.Record) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, rec record.Record) error {
	return f(ctx, rec)
}

// Tee returns a Sink that appends to each non-nil sink in order. Every sink
// is tried; the failures are joined.
func Tee(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 1 {
		return live[0]
	}
	return tee(live)
}

type tee []Sink

func (t tee) Append(ctx context.Context, rec record.Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
