package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/msjae/bioingest/errors"
)

// Service is the record advertised to discovering peers.
type Service struct {
	Name    string
	UUID    string
	Channel string // listener address the service points at
}

// Advertiser publishes and withdraws a Service.
type Advertiser interface {
	Advertise(ctx context.Context, svc Service) error
	Stop() error
}

// LogAdvertiser validates and records the service and logs each transition.
// It does not talk to a Bluetooth daemon.
type LogAdvertiser struct {
	logger *slog.Logger

	mu      sync.Mutex
	current *Service
}

// NewLogAdvertiser returns an Advertiser that only logs.
func NewLogAdvertiser(logger *slog.Logger) *LogAdvertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdvertiser{logger: logger.With("component", "advertiser")}
}

// Advertise registers svc, replacing any earlier registration.
func (a *LogAdvertiser) Advertise(ctx context.Context, svc Service) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "LogAdvertiser", "Advertise", "check context")
	}
	if svc.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: service name", errors.ErrMissingConfig),
			"LogAdvertiser", "Advertise", "validate service")
	}
	id, err := uuid.Parse(svc.UUID)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: service uuid %q: %v", errors.ErrInvalidConfig, svc.UUID, err),
			"LogAdvertiser", "Advertise", "validate service")
	}
	svc.UUID = id.String()

	a.mu.Lock()
	a.current = &svc
	a.mu.Unlock()

	a.logger.Info("Advertising service", "name", svc.Name, "uuid", svc.UUID, "channel", svc.Channel)
	return nil
}

// Stop withdraws the registration. Stopping twice is harmless.
func (a *LogAdvertiser) Stop() error {
	a.mu.Lock()
	svc := a.current
	a.current = nil
	a.mu.Unlock()

	if svc != nil {
		a.logger.Info("Stopped advertising service", "name", svc.Name)
	}
	return nil
}

// Current returns the advertised service, if any.
func (a *LogAdvertiser) Current() (Service, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return Service{}, false
	}
	return *a.current, true
}
