package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/msjae/bioingest/errors"
)

// Transport kinds
const (
	TransportRFCOMM = "rfcomm" // Bluetooth serial profile socket (Linux)
	TransportTCP    = "tcp"    // Plain TCP, for development and tests
)

// Default values applied before any layer is loaded.
const (
	DefaultServiceName   = "BioDataSPPServer"
	DefaultServiceUUID   = "00001101-0000-1000-8000-00805F9B34FB"
	DefaultSinkPath      = "sensor_data.csv"
	DefaultReadSize      = 1024
	DefaultSubjectPrefix = "bioingest.records"
)

// Config represents the complete application configuration
type Config struct {
	Service   ServiceConfig   `json:"service"`
	Transport TransportConfig `json:"transport"`
	Reader    ReaderConfig    `json:"reader"`
	Sink      SinkConfig      `json:"sink"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
	LiveFeed  LiveFeedConfig  `json:"live_feed"`
}

// ServiceConfig describes how the server advertises itself to peripherals.
type ServiceConfig struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Advertise bool   `json:"advertise"`
}

// TransportConfig selects and configures the listening socket.
type TransportConfig struct {
	Kind         string `json:"kind"`
	Channel      int    `json:"channel"`       // RFCOMM channel, 0 = any free channel
	Address      string `json:"address"`       // TCP listen address
	Backlog      int    `json:"backlog"`       // RFCOMM listen backlog
	BindAttempts int    `json:"bind_attempts"` // attempts before giving up on bind
}

// ReaderConfig controls the per-connection read loop.
type ReaderConfig struct {
	ReadSize        int `json:"read_size"`
	MaxPendingBytes int `json:"max_pending_bytes,omitempty"` // 0 = unlimited
}

// SinkConfig locates the CSV log.
type SinkConfig struct {
	Path string `json:"path"`
}

// NATSConfig defines record forwarding to NATS.
type NATSConfig struct {
	Enabled        bool          `json:"enabled"`
	URLs           []string      `json:"urls,omitempty"`
	SubjectPrefix  string        `json:"subject_prefix"`
	MaxReconnects  int           `json:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout   time.Duration `json:"drain_timeout,omitempty"`
	// Failed connects before the circuit opens, and the longest it stays open.
	CircuitThreshold int           `json:"circuit_threshold,omitempty"`
	MaxBackoff       time.Duration `json:"max_backoff,omitempty"`
	Username         string        `json:"username,omitempty"`
	Password         string        `json:"password,omitempty"`
	Token            string        `json:"token,omitempty"`
	Workers          int           `json:"workers"`
	QueueSize        int           `json:"queue_size"`
}

// MetricsConfig defines the metrics and health HTTP server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Path    string `json:"path"`
}

// LiveFeedConfig defines the WebSocket live feed mounted on the metrics server.
type LiveFeedConfig struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path"`
	ClientBuffer int    `json:"client_buffer"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	switch c.Transport.Kind {
	case TransportRFCOMM:
		if c.Transport.Channel < 0 || c.Transport.Channel > 30 {
			return invalid("transport.channel %d out of range (0-30)", c.Transport.Channel)
		}
		if c.Transport.Backlog < 1 {
			return invalid("transport.backlog must be at least 1")
		}
	case TransportTCP:
		if c.Transport.Address == "" {
			return invalid("transport.address is required for tcp transport")
		}
	default:
		return invalid("transport.kind %q is not one of %q, %q", c.Transport.Kind, TransportRFCOMM, TransportTCP)
	}
	if c.Transport.BindAttempts < 1 {
		return invalid("transport.bind_attempts must be at least 1")
	}

	if c.Reader.ReadSize <= 0 {
		return invalid("reader.read_size must be positive")
	}
	if c.Reader.MaxPendingBytes < 0 {
		return invalid("reader.max_pending_bytes cannot be negative")
	}

	if strings.TrimSpace(c.Sink.Path) == "" {
		return invalid("sink.path is required")
	}

	if c.Service.Advertise && c.Service.Name == "" {
		return invalid("service.name is required when advertising")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when nats is enabled")
		}
		for _, part := range strings.Split(c.NATS.SubjectPrefix, ".") {
			if !isValidNATSSubjectPart(part) {
				return invalid(
					"nats.subject_prefix %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
					c.NATS.SubjectPrefix)
			}
		}
		if c.NATS.PingInterval < 0 || c.NATS.DrainTimeout < 0 || c.NATS.MaxBackoff < 0 {
			return invalid("nats.ping_interval, nats.drain_timeout and nats.max_backoff cannot be negative")
		}
		if c.NATS.CircuitThreshold < 0 {
			return invalid("nats.circuit_threshold cannot be negative")
		}
		if c.NATS.Workers < 1 {
			return invalid("nats.workers must be at least 1")
		}
		if c.NATS.QueueSize < 1 {
			return invalid("nats.queue_size must be at least 1")
		}
	}

	if c.LiveFeed.Enabled {
		if !c.Metrics.Enabled {
			return invalid("live_feed requires metrics.enabled (it is served by the metrics server)")
		}
		if !strings.HasPrefix(c.LiveFeed.Path, "/") {
			return invalid("live_feed.path must start with /")
		}
		if c.LiveFeed.Path == c.Metrics.Path || c.LiveFeed.Path == "/health" || c.LiveFeed.Path == "/health/status" {
			return invalid("live_feed.path %q collides with a built-in route", c.LiveFeed.Path)
		}
		if c.LiveFeed.ClientBuffer < 1 {
			return invalid("live_feed.client_buffer must be at least 1")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics.address is required when metrics are enabled")
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// isValidNATSSubjectPart checks if a string is valid for use as one NATS
// subject token. Valid characters are alphanumeric, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "****"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "BIOINGEST",
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file. An empty path loads
// defaults plus environment overrides only.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{}
	if path != "" {
		l.layers = append(l.layers, path)
	}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged, err := l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "validate config")
		}
	}

	return cfg, nil
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      DefaultServiceName,
			UUID:      DefaultServiceUUID,
			Advertise: true,
		},
		Transport: TransportConfig{
			Kind:         TransportRFCOMM,
			Channel:      0,
			Address:      "127.0.0.1:7070",
			Backlog:      1,
			BindAttempts: 3,
		},
		Reader: ReaderConfig{
			ReadSize: DefaultReadSize,
		},
		Sink: SinkConfig{
			Path: DefaultSinkPath,
		},
		NATS: NATSConfig{
			URLs:             []string{"nats://localhost:4222"},
			SubjectPrefix:    DefaultSubjectPrefix,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			ConnectTimeout:   5 * time.Second,
			PingInterval:     30 * time.Second,
			DrainTimeout:     5 * time.Second,
			CircuitThreshold: 5,
			MaxBackoff:       time.Minute,
			Workers:          2,
			QueueSize:        1024,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
		LiveFeed: LiveFeedConfig{
			Path:         "/live",
			ClientBuffer: 64,
		},
	}
}

// loadRaw loads configuration from a JSON or YAML file as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}

	if err := l.parseDurations(rawConfig); err != nil {
		return nil, err
	}

	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(l.deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) error {
	nats, ok := data["nats"].(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"reconnect_wait", "connect_timeout", "ping_interval", "drain_timeout", "max_backoff"} {
		raw, ok := nats[key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%w: nats.%s: %v", errors.ErrInvalidConfig, key, err)
		}
		nats[key] = d.Nanoseconds()
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"TRANSPORT_KIND":      &cfg.Transport.Kind,
		"TRANSPORT_ADDRESS":   &cfg.Transport.Address,
		"SINK_PATH":           &cfg.Sink.Path,
		"NATS_SUBJECT_PREFIX": &cfg.NATS.SubjectPrefix,
		"NATS_USERNAME":       &cfg.NATS.Username,
		"NATS_PASSWORD":       &cfg.NATS.Password,
		"NATS_TOKEN":          &cfg.NATS.Token,
		"METRICS_ADDRESS":     &cfg.Metrics.Address,
	}
	ints := map[string]*int{
		"TRANSPORT_CHANNEL":  &cfg.Transport.Channel,
		"READER_READ_SIZE":   &cfg.Reader.ReadSize,
		"READER_MAX_PENDING": &cfg.Reader.MaxPendingBytes,
	}
	bools := map[string]*bool{
		"NATS_ENABLED":      &cfg.NATS.Enabled,
		"METRICS_ENABLED":   &cfg.Metrics.Enabled,
		"LIVE_FEED_ENABLED": &cfg.LiveFeed.Enabled,
	}

	for name, dst := range strs {
		if val, ok := l.env(name); ok {
			*dst = val
		}
	}
	for name, dst := range ints {
		val, ok := l.env(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_%s=%q is not an integer", errors.ErrInvalidConfig, l.envPrefix, name, val)
		}
		*dst = n
	}
	for name, dst := range bools {
		val, ok := l.env(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: %s_%s=%q is not a boolean", errors.ErrInvalidConfig, l.envPrefix, name, val)
		}
		*dst = b
	}

	if val, ok := l.env("NATS_URLS"); ok {
		cfg.NATS.URLs = splitList(val)
	}

	for _, check := range []struct {
		key, value string
	}{
		{"SINK_PATH", cfg.Sink.Path},
		{"NATS_PASSWORD", cfg.NATS.Password},
		{"NATS_TOKEN", cfg.NATS.Token},
	} {
		if err := validateEnvVar(l.envPrefix+"_"+check.key, check.value); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
		}
	}

	return nil
}

// env returns a non-empty environment value for PREFIX_name.
func (l *Loader) env(name string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
