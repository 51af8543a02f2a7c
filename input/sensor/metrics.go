package sensor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/msjae/bioingest/metric"
)

const componentName = "sensor"

// Metrics holds Prometheus metrics shared by the server and its workers
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	bytesReceived     prometheus.Counter
	framesExtracted   prometheus.Counter
	recordsAccepted   prometheus.Counter
	recordsRejected   *prometheus.CounterVec
	sinkErrors        prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "connections_total",
			Help:      "Peripheral connections accepted",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "connections_active",
			Help:      "Connection workers currently running",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "bytes_received_total",
			Help:      "Bytes read from peripheral connections",
		}),
		framesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "frames_total",
			Help:      "Brace-delimited frames extracted from the stream",
		}),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "records_total",
			Help:      "Records decoded and handed to the sink",
		}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "discarded_total",
			Help:      "Discarded input by reason",
		}, []string{"reason"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "sink_errors_total",
			Help:      "Records the sink failed to store",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"connections_total":    m.connectionsTotal,
		"bytes_received_total": m.bytesReceived,
		"frames_total":         m.framesExtracted,
		"records_total":        m.recordsAccepted,
		"sink_errors_total":    m.sinkErrors,
	} {
		if err := registry.RegisterCounter(componentName, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(componentName, "connections_active", m.connectionsActive); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(componentName, "discarded_total", m.recordsRejected); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) discard(reason string) {
	if m != nil {
		m.recordsRejected.WithLabelValues(reason).Inc()
	}
}
