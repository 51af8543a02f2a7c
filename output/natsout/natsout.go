package natsout

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/metric"
	"github.com/msjae/bioingest/pkg/worker"
	"github.com/msjae/bioingest/record"
)

const componentName = "natsout"

// Publisher is the part of natsclient.Client the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config controls the forwarder.
type Config struct {
	SubjectPrefix string
	Workers       int
	QueueSize     int
}

// Deps holds the forwarder's collaborators. Client is required.
type Deps struct {
	Client          Publisher
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Forwarder publishes records asynchronously.
type Forwarder struct {
	prefix  string
	client  Publisher
	pool    *worker.Pool[record.Record]
	logger  *slog.Logger
	metrics *Metrics
	core    *metric.Metrics
}

// Metrics holds Prometheus metrics for the forwarder
type Metrics struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
	dropped       prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "published_total",
			Help:      "Records published to NATS",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "publish_errors_total",
			Help:      "Records that failed to encode or publish",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "dropped_total",
			Help:      "Records dropped because the publish queue was full or stopped",
		}),
	}

	if err := registry.RegisterCounter(componentName, "published_total", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "publish_errors_total", m.publishErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "dropped_total", m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

// New creates a Forwarder. Call Start before the first Append.
func New(cfg Config, deps Deps) (*Forwarder, error) {
	if deps.Client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Forwarder", "New", "validate client")
	}
	if cfg.SubjectPrefix == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Forwarder", "New", "validate subject prefix")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Forwarder", "New", "register metrics")
	}

	f := &Forwarder{
		prefix:  strings.TrimSuffix(cfg.SubjectPrefix, "."),
		client:  deps.Client,
		logger:  logger.With("component", componentName),
		metrics: metrics,
	}
	if deps.MetricsRegistry != nil {
		f.core = deps.MetricsRegistry.CoreMetrics()
	}

	f.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, f.publish,
		worker.WithMetricsRegistry[record.Record](deps.MetricsRegistry, componentName))
	return f, nil
}

// Start launches the publish workers.
func (f *Forwarder) Start(ctx context.Context) error {
	if err := f.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Forwarder", "Start", "start pool")
	}
	f.logger.Info("Forwarding records to NATS", "subject_prefix", f.prefix)
	return nil
}

// Stop stops accepting records and waits up to timeout for queued ones.
func (f *Forwarder) Stop(timeout time.Duration) error {
	if err := f.pool.Stop(timeout); err != nil {
		stats := f.pool.Stats()
		f.logger.Warn("Forwarder stopped before queue drained",
			"queued", stats.QueueDepth, "error", err)
		return errors.WrapTransient(err, "Forwarder", "Stop", "drain queue")
	}
	return nil
}

// Stats reports the underlying pool counters.
func (f *Forwarder) Stats() worker.PoolStats {
	return f.pool.Stats()
}

// Append queues rec for publishing. A full or stopped queue drops the record;
// the drop is logged and counted but not returned, so the caller's other
// sinks are unaffected.
func (f *Forwarder) Append(_ context.Context, rec record.Record) error {
	err := f.pool.Submit(rec)
	if err == nil {
		return nil
	}

	if f.metrics != nil {
		f.metrics.dropped.Inc()
	}
	reason := "queue full"
	if !stderrors.Is(err, errors.ErrQueueFull) {
		reason = err.Error()
	}
	f.logger.Warn("Dropped record for NATS",
		"reason", reason, "sensor", rec.SensorType, "connection_id", rec.ConnectionID)
	return nil
}

// Subject returns the subject a record with the given sensor type is
// published to.
func (f *Forwarder) Subject(sensorType string) string {
	return f.prefix + "." + SubjectToken(sensorType)
}

func (f *Forwarder) publish(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return f.fail(errors.WrapInvalid(err, "Forwarder", "publish", "encode record"), rec)
	}

	subject := f.Subject(rec.SensorType)
	if err := f.client.Publish(ctx, subject, data); err != nil {
		return f.fail(err, rec)
	}

	if f.metrics != nil {
		f.metrics.published.Inc()
	}
	f.logger.Debug("Published record", "subject", subject, "connection_id", rec.ConnectionID)
	return nil
}

func (f *Forwarder) fail(err error, rec record.Record) error {
	f.logger.Error("Failed to publish record",
		"sensor", rec.SensorType, "connection_id", rec.ConnectionID, "error", err)
	if f.metrics != nil {
		f.metrics.publishErrors.Inc()
	}
	f.core.RecordError(componentName, err)
	return err
}

// SubjectToken maps a sensor type onto a single NATS subject token. Letters,
// digits, '-' and '_' are kept; everything else becomes '_'.
func SubjectToken(sensorType string) string {
	if sensorType == "" {
		return record.DefaultSensorType
	}
	var b strings.Builder
	b.Grow(len(sensorType))
	for _, r := range sensorType {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
