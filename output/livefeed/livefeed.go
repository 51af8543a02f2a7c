package livefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/metric"
	"github.com/msjae/bioingest/record"
)

const componentName = "livefeed"

const (
	defaultClientBuffer = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxIncomingMessage  = 4096
)

// Config controls per-client behaviour.
type Config struct {
	ClientBuffer int           // messages queued per client before dropping
	WriteTimeout time.Duration // deadline for a single frame write
	PingInterval time.Duration // keepalive ping period; pong wait is twice this
}

// Deps holds optional collaborators for a Hub.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Hub tracks connected clients and fans records out to them.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *Metrics

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	closed    bool

	wg      sync.WaitGroup
	dropped atomic.Int64
	sent    atomic.Int64
}

type client struct {
	conn        *websocket.Conn
	peer        string
	connectedAt time.Time
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
}

// Metrics holds Prometheus metrics for the live feed
type Metrics struct {
	clientsConnected prometheus.Gauge
	connectionTotal  prometheus.Counter
	messagesSent     prometheus.Counter
	messagesDropped  prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "clients_connected",
			Help:      "Currently connected live feed clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "connections_total",
			Help:      "Live feed connections accepted",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "messages_sent_total",
			Help:      "Messages written to live feed clients",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because a client queue was full",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: componentName,
			Name:      "errors_total",
			Help:      "Live feed errors by type",
		}, []string{"type"}),
	}

	if err := registry.RegisterGauge(componentName, "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "connections_total", m.connectionTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "messages_sent_total", m.messagesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(componentName, "messages_dropped_total", m.messagesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(componentName, "errors_total", m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// New creates a Hub. Zero Config fields take their defaults.
func New(cfg Config, deps Deps) (*Hub, error) {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = defaultClientBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Hub", "New", "register metrics")
	}

	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Dashboards are served from anywhere on the local network.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger:  logger.With("component", componentName),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.clientsMu.RLock()
	closed := h.closed
	h.clientsMu.RUnlock()
	if closed {
		http.Error(w, "live feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("WebSocket upgrade failed", "peer", r.RemoteAddr, "error", err)
		h.countError("connection_upgrade")
		return
	}

	c := &client{
		conn:        conn,
		peer:        r.RemoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, h.cfg.ClientBuffer),
		done:        make(chan struct{}),
	}

	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	// Registered under the lock so Close cannot wait before the client exists.
	h.wg.Add(2)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.connectionTotal.Inc()
		h.metrics.clientsConnected.Set(float64(count))
	}
	h.logger.Info("Live feed client connected", "peer", c.peer, "clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Append broadcasts rec to every connected client. A client whose queue is
// full misses the message.
func (h *Hub) Append(_ context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		h.countError("encode")
		return errors.WrapInvalid(err, "Hub", "Append", "encode record")
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.messagesDropped.Inc()
			}
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of per-client messages dropped so far.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Sent returns the number of per-client messages written so far.
func (h *Hub) Sent() int64 {
	return h.sent.Load()
}

// Close disconnects every client and rejects new ones. It waits for the
// client goroutines until ctx is done.
func (h *Hub) Close(ctx context.Context) error {
	h.clientsMu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	for _, c := range clients {
		h.removeClient(c, "shutdown")
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Hub", "Close", "wait for clients")
	}
}

// writeLoop is the only goroutine that writes to c.conn.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c, "write")

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Live feed write failed", "peer", c.peer, "error", err)
				h.countError("write")
				return
			}
			h.sent.Add(1)
			if h.metrics != nil {
				h.metrics.messagesSent.Inc()
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.countError("ping")
				return
			}
		}
	}
}

// readLoop drains incoming frames so pongs and close frames are handled.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c, "read")

	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(maxIncomingMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// removeClient unregisters c once. The writer sees done, sends a close frame
// and exits; the connection itself is closed here after the writer is told.
func (h *Hub) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		h.clientsMu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.clientsMu.Unlock()

		close(c.done)

		if h.metrics != nil {
			h.metrics.clientsConnected.Set(float64(count))
		}
		h.logger.Info("Live feed client disconnected",
			"peer", c.peer, "reason", reason,
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond),
			"clients", count)

		// The reader is blocked in ReadMessage; closing the socket after a
		// short grace period lets the writer's close frame go out first.
		time.AfterFunc(250*time.Millisecond, func() { _ = c.conn.Close() })
	})
}

func (h *Hub) countError(kind string) {
	if h.metrics != nil {
		h.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}
