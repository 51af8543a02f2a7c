package sensor

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msjae/bioingest/config"
	"github.com/msjae/bioingest/record"
)

// pipeConn adapts one end of net.Pipe to transport.Conn.
type pipeConn struct {
	net.Conn
}

func (pipeConn) RemoteAddr() string { return "pipe" }

// memorySink records appended rows in order.
type memorySink struct {
	mu   sync.Mutex
	rows []record.Row
	recs []record.Record
	err  error
}

func (s *memorySink) Append(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rec.Row())
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memorySink) snapshot() []record.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Row(nil), s.rows...)
}

// syncBuffer is a goroutine-safe log destination.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runWorker starts a worker on a pipe and returns the client end, the sink
// and a channel closed when Run returns.
func runWorker(t *testing.T, cfg config.ReaderConfig) (net.Conn, *memorySink, *syncBuffer, <-chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	sink := &memorySink{}
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := NewWorker("conn-1", pipeConn{server}, sink, cfg, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, sink, logs, done
}

func send(t *testing.T, conn net.Conn, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		_, err := conn.Write([]byte(c))
		require.NoError(t, err)
	}
}

func finish(t *testing.T, conn net.Conn, done <-chan struct{}) {
	t.Helper()
	require.NoError(t, conn.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after client closed")
	}
}

func TestWorker_FramesAcrossReads(t *testing.T) {
	conn, sink, logs, done := runWorker(t, config.ReaderConfig{ReadSize: 8})

	send(t, conn,
		`{"sensor":"HeartRate","val`,
		`ue":72,"timestamp":1718000000123}{"sensor":"PPG",`,
		`"green":5,"timestampNs":99}`)
	finish(t, conn, done)

	assert.Equal(t, []record.Row{
		{Timestamp: "1718000000123", SensorType: "HeartRate", Value: "72"},
		{Timestamp: "99", SensorType: "PPG", Value: "5"},
	}, sink.snapshot())

	out := logs.String()
	assert.Contains(t, out, "Client disconnected")
	assert.Contains(t, out, "Connection closed")
	assert.Contains(t, out, "connection_id=conn-1")
}

func TestWorker_GarbageBetweenFrames(t *testing.T) {
	conn, sink, _, done := runWorker(t, config.ReaderConfig{})

	send(t, conn, "noise\r\n", `{"value":1,"timestamp":1}`, " ]]] }} ", `{"value":2,"timestamp":2}`, "trailing")
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].Value)
	assert.Equal(t, "2", rows[1].Value)
}

func TestWorker_BadFramesDoNotEndConnection(t *testing.T) {
	conn, sink, logs, done := runWorker(t, config.ReaderConfig{})

	send(t, conn,
		`{"sensor":"A" "value":1}`,
		`{"sensor":"B","value":1}`,
		`{"sensor":"C","value":3,"timestamp":3}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0].SensorType)

	out := logs.String()
	assert.Contains(t, out, "reason=malformed")
	assert.Contains(t, out, "reason=incomplete")
}

func TestWorker_QuotedBraces(t *testing.T) {
	conn, sink, _, done := runWorker(t, config.ReaderConfig{ReadSize: 3})

	send(t, conn, `{"sensor":"a}b{c","value":"x\"}","timestamp":1}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "a}b{c", rows[0].SensorType)
	assert.Equal(t, `x"}`, rows[0].Value)
}

func TestWorker_InvalidUTF8ResetsBuffer(t *testing.T) {
	conn, sink, logs, done := runWorker(t, config.ReaderConfig{})

	send(t, conn, `{"value":1,`)
	send(t, conn, "\xff\xfe")
	send(t, conn, `"timestamp":1}{"value":2,"timestamp":2}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].Value)
	assert.Contains(t, logs.String(), "invalid UTF-8")
}

func TestWorker_InvalidUTF8CountsCarriedBytes(t *testing.T) {
	conn, sink, logs, done := runWorker(t, config.ReaderConfig{})

	send(t, conn, "{\"a\":\"\xc3")
	send(t, conn, "\x28")
	send(t, conn, `{"value":3,"timestamp":3}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].Value)
	assert.Contains(t, logs.String(), "discarded_bytes=8")
}

func TestWorker_MultiByteSplitAcrossReads(t *testing.T) {
	conn, sink, _, done := runWorker(t, config.ReaderConfig{ReadSize: 1})

	send(t, conn, `{"sensor":"Température","value":"36,6°","timestamp":1}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "Température", rows[0].SensorType)
	assert.Equal(t, "36,6°", rows[0].Value)
}

func TestWorker_MaxPendingBytes(t *testing.T) {
	conn, sink, logs, done := runWorker(t, config.ReaderConfig{ReadSize: 16, MaxPendingBytes: 32})

	send(t, conn, `{"value":"`+strings.Repeat("x", 64))
	send(t, conn, `"}`, `{"value":1,"timestamp":1}`)
	finish(t, conn, done)

	rows := sink.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].Value)
	assert.Contains(t, logs.String(), "Discarding oversized unterminated frame")
}

func TestWorker_SinkErrorsContinue(t *testing.T) {
	client, server := net.Pipe()
	calls := 0
	sink := SinkFunc(func(_ context.Context, rec record.Record) error {
		calls++
		if calls == 1 {
			return stderrors.New("disk full")
		}
		return nil
	})

	w := NewWorker("c", pipeConn{server}, sink, config.ReaderConfig{}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	send(t, client, `{"value":1,"timestamp":1}`, `{"value":2,"timestamp":2}`)
	finish(t, client, done)
	assert.Equal(t, 2, calls)
}

func TestWorker_RecordMetadata(t *testing.T) {
	client, server := net.Pipe()
	sink := &memorySink{}
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	w := NewWorker("conn-42", pipeConn{server}, sink, config.ReaderConfig{}, nil)
	w.now = func() time.Time { return fixed }
	assert.Equal(t, "conn-42", w.ID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	send(t, client, `{"value":1,"timestamp":1}`)
	finish(t, client, done)

	require.Len(t, sink.recs, 1)
	assert.Equal(t, "conn-42", sink.recs[0].ConnectionID)
	assert.Equal(t, fixed, sink.recs[0].ReceivedAt)
	assert.Equal(t, record.DefaultSensorType, sink.recs[0].SensorType)
}

func TestWorker_PanicClosesConnection(t *testing.T) {
	client, server := net.Pipe()
	sink := SinkFunc(func(context.Context, record.Record) error { panic("boom") })
	logs := &syncBuffer{}

	w := NewWorker("c", pipeConn{server}, sink, config.ReaderConfig{}, slog.New(slog.NewTextHandler(logs, nil)))
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	send(t, client, `{"value":1,"timestamp":1}`)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after panic")
	}

	// The worker closed its end, so further writes fail.
	_, err := client.Write([]byte("x"))
	assert.Error(t, err)
	assert.Contains(t, logs.String(), "Connection worker panicked")
	assert.Contains(t, logs.String(), "Connection closed")
}

func TestTee(t *testing.T) {
	a, b := &memorySink{}, &memorySink{err: stderrors.New("b failed")}
	c := &memorySink{}

	sink := Tee(a, nil, b, c)
	err := sink.Append(context.Background(), record.Record{SensorType: "X", Value: "1", Timestamp: "2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, c.snapshot(), 1)

	assert.Same(t, a, Tee(nil, a), "single sink is returned as is")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 100))
	long := strings.Repeat("é", 150)
	got := truncate(long, 100)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("é", 100)+"..."))
	assert.Contains(t, got, "(300 bytes)")
}
