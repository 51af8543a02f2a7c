package sensor

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/msjae/bioingest/config"
	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/input/transport"
	"github.com/msjae/bioingest/metric"
)

// Deps holds the server's collaborators. Listener and Sink are required.
type Deps struct {
	Listener        transport.Listener
	Sink            Sink
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Server is the connection acceptor.
type Server struct {
	cfg      config.ReaderConfig
	listener transport.Listener
	sink     Sink
	logger   *slog.Logger
	metrics  *Metrics
	core     *metric.Metrics

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	active   atomic.Int64
	accepted atomic.Int64
	newID    func() string
}

// NewServer creates a Server. It does not start accepting until Serve.
func NewServer(cfg config.ReaderConfig, deps Deps) (*Server, error) {
	if deps.Listener == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer", "validate listener")
	}
	if deps.Sink == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer", "validate sink")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "NewServer", "register metrics")
	}

	s := &Server{
		cfg:      cfg,
		listener: deps.Listener,
		sink:     deps.Sink,
		logger:   logger.With("component", componentName),
		metrics:  metrics,
		newID:    func() string { return uuid.New().String() },
	}
	if deps.MetricsRegistry != nil {
		s.core = deps.MetricsRegistry.CoreMetrics()
	}
	return s, nil
}

// Serve accepts connections until the listener is closed or ctx is done,
// returning nil in both cases. Any other accept failure is logged and
// returned. Workers outlive Serve.
func (s *Server) Serve(ctx context.Context) error {
	s.core.SetStatus(componentName, metric.StatusRunning)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	// Workers are detached from the acceptor's lifetime.
	workerCtx := context.WithoutCancel(ctx)

	s.logger.Info("Waiting for connections", "addr", s.listener.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || stderrors.Is(err, errors.ErrListenerClosed) {
				s.logger.Info("Listener closed, no longer accepting connections")
				s.core.SetStatus(componentName, metric.StatusStopped)
				return nil
			}
			s.logger.Error("Accept failed", "error", err)
			s.core.SetStatus(componentName, metric.StatusFailed)
			wrapped := errors.WrapFatal(err, "Server", "Serve", "accept connection")
			s.core.RecordError(componentName, wrapped)
			return wrapped
		}

		id := s.newID()
		s.accepted.Add(1)
		s.logger.Info("Accepted connection", "peer", conn.RemoteAddr(), "connection_id", id)

		w := NewWorker(id, conn, s.sink, s.cfg, s.logger)
		w.metrics = s.metrics
		s.track(1)
		go func() {
			defer s.track(-1)
			w.Run(workerCtx)
		}()
	}
}

func (s *Server) track(delta int64) {
	n := s.active.Add(delta)
	if s.metrics != nil {
		if delta > 0 {
			s.metrics.connectionsTotal.Inc()
		}
		s.metrics.connectionsActive.Set(float64(n))
	}
}

// Close stops accepting by closing the listener. It is safe to call more
// than once and concurrently with Serve.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if err := s.listener.Close(); err != nil {
			s.logger.Error("Failed to close listener", "error", err)
			s.closeErr = errors.WrapTransient(err, "Server", "Close", "close listener")
		}
	})
	return s.closeErr
}

// ActiveConnections reports the number of running workers.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Accepted reports the number of connections accepted since start.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Closing reports whether Close has been called.
func (s *Server) Closing() bool {
	return s.closing.Load()
}
