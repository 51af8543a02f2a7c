package csvlog

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/metric"
	"github.com/msjae/bioingest/record"
)

const componentName = "csvlog"

// Deps holds optional collaborators for a Log.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
}

// Log is the durable, mutex-guarded CSV sink.
type Log struct {
	path    string
	perm    fs.FileMode
	logger  *slog.Logger
	metrics *Metrics
	core    *metric.Metrics

	mu      sync.Mutex
	rows    atomic.Int64
	lastErr atomic.Pointer[string]
}

// Metrics holds Prometheus metrics for the CSV sink
type Metrics struct {
	rowsWritten   prometheus.Counter
	headers       prometheus.Counter
	writeErrors   *prometheus.CounterVec
	writeDuration prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "rows_written_total",
			Help:      "Rows appended to the CSV log",
		}),
		headers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "headers_written_total",
			Help:      "Times the CSV header was written to a new or empty file",
		}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "write_errors_total",
			Help:      "Failed appends by failing step",
		}, []string{"step"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "write_duration_seconds",
			Help:      "Time spent on one append, including waiting for the lock",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}

	if err := registry.RegisterCounter(componentName, "rows_written_total", m.rowsWritten); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "headers_written_total", m.headers); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(componentName, "write_errors_total", m.writeErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(componentName, "write_duration_seconds", m.writeDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// New creates a Log writing to path. The parent directory is created if
// needed; the file itself is created on the first append.
func New(path string, deps Deps) (*Log, error) {
	if path == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Log", "New", "validate path")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapFatal(err, "Log", "New", fmt.Sprintf("create directory %s", dir))
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Log", "New", "register metrics")
	}

	l := &Log{
		path:    path,
		perm:    0o644,
		logger:  logger.With("component", componentName, "path", path),
		metrics: metrics,
	}
	if deps.MetricsRegistry != nil {
		l.core = deps.MetricsRegistry.CoreMetrics()
	}
	return l, nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Rows returns the number of rows appended since the Log was created.
func (l *Log) Rows() int64 {
	return l.rows.Load()
}

// LastError returns the error of the most recent append if it failed, or "".
func (l *Log) LastError() string {
	if msg := l.lastErr.Load(); msg != nil {
		return *msg
	}
	return ""
}

// Append renders rec as a row and appends it.
func (l *Log) Append(_ context.Context, rec record.Record) error {
	return l.WriteRow(rec.Row())
}

// WriteRow appends one row, writing the header first if the file is missing
// or empty.
func (l *Log) WriteRow(row record.Row) error {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	needHeader := false
	info, err := os.Stat(l.path)
	switch {
	case err == nil:
		needHeader = info.Size() == 0
	case stderrors.Is(err, fs.ErrNotExist):
		needHeader = true
	default:
		return l.fail("stat", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, l.perm)
	if err != nil {
		return l.fail("open", err)
	}

	w := csv.NewWriter(f)
	if needHeader {
		_ = w.Write(record.Header)
	}
	_ = w.Write(row.Fields())
	w.Flush()

	if err := w.Error(); err != nil {
		_ = f.Close()
		return l.fail("write", err)
	}
	if err := f.Close(); err != nil {
		return l.fail("close", err)
	}

	l.rows.Add(1)
	l.lastErr.Store(nil)
	if needHeader {
		l.logger.Info("Created log file and wrote header")
	}
	if l.metrics != nil {
		l.metrics.rowsWritten.Inc()
		if needHeader {
			l.metrics.headers.Inc()
		}
		l.metrics.writeDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// fail logs and counts a failed append. Called with l.mu held.
func (l *Log) fail(step string, cause error) error {
	err := errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, cause),
		"Log", "WriteRow", step)

	msg := err.Error()
	l.lastErr.Store(&msg)

	l.logger.Error("Failed to write to log file", "step", step, "error", cause)
	if l.metrics != nil {
		l.metrics.writeErrors.WithLabelValues(step).Inc()
	}
	l.core.RecordError(componentName, err)
	return err
}
