package sensor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/msjae/bioingest/config"
	"github.com/msjae/bioingest/framing"
	"github.com/msjae/bioingest/input/transport"
	"github.com/msjae/bioingest/record"
)

// maxLoggedFrame bounds how much of a discarded frame is logged.
const maxLoggedFrame = 100

// Worker reads one connection until it ends.
type Worker struct {
	id       string
	conn     transport.Conn
	sink     Sink
	readSize int
	maxPend  int

	scanner framing.Scanner
	utf8    *utf8Decoder

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewWorker prepares a worker for conn. Records carry id as their connection
// ID. A nil logger uses slog.Default.
func NewWorker(id string, conn transport.Conn, sink Sink, cfg config.ReaderConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}
	readSize := cfg.ReadSize
	if readSize <= 0 {
		readSize = config.DefaultReadSize
	}
	return &Worker{
		id:       id,
		conn:     conn,
		sink:     sink,
		readSize: readSize,
		maxPend:  cfg.MaxPendingBytes,
		utf8:     newUTF8Decoder(),
		logger:   logger.With("connection_id", id, "peer", conn.RemoteAddr()),
		now:      time.Now,
	}
}

// ID returns the connection ID.
func (w *Worker) ID() string {
	return w.id
}

// Run reads until end of stream, a read error or a panic, then closes the
// connection. It does not return an error; everything is logged.
func (w *Worker) Run(ctx context.Context) {
	defer w.close()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Connection worker panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	buf := make([]byte, w.readSize)
	for {
		n, err := w.conn.Read(buf)
		if n > 0 {
			if w.metrics != nil {
				w.metrics.bytesReceived.Add(float64(n))
			}
			w.process(ctx, buf[:n])
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				w.logger.Info("Client disconnected")
			} else {
				w.logger.Error("Connection read failed", "error", err)
			}
			return
		}
	}
}

func (w *Worker) close() {
	if err := w.conn.Close(); err != nil {
		w.logger.Debug("Error closing connection", "error", err)
	}
	w.logger.Info("Connection closed")
}

// process pushes one chunk through validation, framing and decoding.
func (w *Worker) process(ctx context.Context, chunk []byte) {
	carried := w.utf8.pending()
	text, err := w.utf8.decode(chunk)
	if err != nil {
		w.logger.Warn("Discarding buffered data after invalid UTF-8",
			"discarded_bytes", w.scanner.PendingLen()+carried+len(chunk), "error", err)
		w.scanner.Reset()
		w.metrics.discard("encoding")
		return
	}

	for _, frame := range w.scanner.Feed(text) {
		if w.metrics != nil {
			w.metrics.framesExtracted.Inc()
		}
		w.handleFrame(ctx, frame)
	}

	if w.maxPend > 0 && w.scanner.PendingLen() > w.maxPend {
		w.logger.Warn("Discarding oversized unterminated frame",
			"pending_bytes", w.scanner.PendingLen(), "limit", w.maxPend,
			"frame", truncate(w.scanner.Pending(), maxLoggedFrame))
		w.scanner.Reset()
		w.utf8.reset()
		w.metrics.discard("too_large")
	}
}

func (w *Worker) handleFrame(ctx context.Context, frame string) {
	rec, err := record.Decode(frame)
	if err != nil {
		reason := "malformed"
		if stderrors.Is(err, record.ErrIncompleteFields) {
			reason = "incomplete"
		}
		w.logger.Warn("Dropped frame", "reason", reason, "frame", truncate(frame, maxLoggedFrame), "error", err)
		w.metrics.discard(reason)
		return
	}

	rec.ConnectionID = w.id
	rec.ReceivedAt = w.now()

	// The sink reports its own failures.
	if err := w.sink.Append(ctx, rec); err != nil {
		if w.metrics != nil {
			w.metrics.sinkErrors.Inc()
		}
		return
	}

	if w.metrics != nil {
		w.metrics.recordsAccepted.Inc()
	}
	w.logger.Debug("Stored record", "sensor", rec.SensorType,
		"timestamp", record.Text(rec.Timestamp), "value", truncate(record.Text(rec.Value), maxLoggedFrame))
}

// truncate shortens s to at most n characters, marking the cut.
func truncate(s string, n int) string {
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i] + fmt.Sprintf("...(%d bytes)", len(s))
		}
		runes++
	}
	return s
}
