package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/msjae/bioingest/config"
	"github.com/msjae/bioingest/errors"
	"github.com/msjae/bioingest/pkg/retry"
)

// Listener accepts incoming stream connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Conn is one accepted stream.
type Conn interface {
	io.ReadCloser
	RemoteAddr() string
}

// Listen opens the listener selected by cfg.Kind, retrying the bind up to
// cfg.BindAttempts times.
func Listen(ctx context.Context, cfg config.TransportConfig, logger *slog.Logger) (Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var open func() (Listener, error)
	switch strings.ToLower(cfg.Kind) {
	case config.TransportRFCOMM:
		open = func() (Listener, error) { return ListenRFCOMM(cfg.Channel, cfg.Backlog) }
	case config.TransportTCP:
		open = func() (Listener, error) { return ListenTCP(cfg.Address) }
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: transport kind %q", errors.ErrInvalidConfig, cfg.Kind),
			"transport", "Listen", "select transport")
	}

	policy := retry.Config{
		MaxAttempts:  cfg.BindAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	var (
		ln      Listener
		attempt int
	)
	err := retry.Do(ctx, policy, func() error {
		attempt++
		l, err := open()
		if err != nil {
			logger.Warn("Failed to bind listener", "kind", cfg.Kind, "attempt", attempt, "error", err)
			return err
		}
		ln = l
		return nil
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "transport", "Listen", fmt.Sprintf("bind %s listener", cfg.Kind))
	}

	logger.Info("Listening for sensor connections", "kind", cfg.Kind, "addr", ln.Addr())
	return ln, nil
}
