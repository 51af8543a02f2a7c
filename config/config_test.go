package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msjae/bioingest/errors"
)

// newTestLoader returns a loader that reads environment values from env only.
func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, TransportRFCOMM, cfg.Transport.Kind)
	assert.Equal(t, 0, cfg.Transport.Channel)
	assert.Equal(t, 1, cfg.Transport.Backlog)
	assert.Equal(t, DefaultReadSize, cfg.Reader.ReadSize)
	assert.Equal(t, 0, cfg.Reader.MaxPendingBytes)
	assert.Equal(t, DefaultSinkPath, cfg.Sink.Path)
	assert.Equal(t, DefaultServiceName, cfg.Service.Name)
	assert.Equal(t, DefaultServiceUUID, cfg.Service.UUID)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/live", cfg.LiveFeed.Path)

	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "bioingest.json", `{
		"transport": {"kind": "tcp", "address": "127.0.0.1:9000"},
		"sink": {"path": "/var/lib/bioingest/data.csv"},
		"nats": {
			"enabled": true,
			"urls": ["nats://a:4222", "nats://b:4222"],
			"reconnect_wait": "5s"
		}
	}`)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, TransportTCP, cfg.Transport.Kind)
	assert.Equal(t, "127.0.0.1:9000", cfg.Transport.Address)
	assert.Equal(t, "/var/lib/bioingest/data.csv", cfg.Sink.Path)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, DefaultReadSize, cfg.Reader.ReadSize)
	assert.Equal(t, DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, 3, cfg.Transport.BindAttempts)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "bioingest.yaml", `
transport:
  kind: rfcomm
  channel: 4
reader:
  read_size: 256
  max_pending_bytes: 65536
metrics:
  enabled: true
  address: "127.0.0.1:9191"
live_feed:
  enabled: true
nats:
  connect_timeout: 750ms
  ping_interval: 15s
  drain_timeout: 2s
  max_backoff: 30s
  circuit_threshold: 3
`)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Transport.Channel)
	assert.Equal(t, 256, cfg.Reader.ReadSize)
	assert.Equal(t, 65536, cfg.Reader.MaxPendingBytes)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9191", cfg.Metrics.Address)
	assert.True(t, cfg.LiveFeed.Enabled)
	assert.Equal(t, 64, cfg.LiveFeed.ClientBuffer)
	assert.Equal(t, 750*time.Millisecond, cfg.NATS.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.NATS.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.NATS.MaxBackoff)
	assert.Equal(t, 3, cfg.NATS.CircuitThreshold)
}

func TestLoader_LayersMergeInOrder(t *testing.T) {
	base := writeFile(t, "base.json", `{"sink": {"path": "base.csv"}, "reader": {"read_size": 512}}`)
	override := writeFile(t, "override.yml", "sink:\n  path: override.csv\n")

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "override.csv", cfg.Sink.Path)
	assert.Equal(t, 512, cfg.Reader.ReadSize)
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"BIOINGEST_TRANSPORT_KIND":      "TCP",
		"BIOINGEST_TRANSPORT_ADDRESS":   "0.0.0.0:7777",
		"BIOINGEST_SINK_PATH":           "env.csv",
		"BIOINGEST_READER_READ_SIZE":    "64",
		"BIOINGEST_NATS_ENABLED":        "true",
		"BIOINGEST_NATS_URLS":           "nats://x:4222, nats://y:4222,",
		"BIOINGEST_NATS_SUBJECT_PREFIX": "lab.watch",
		"BIOINGEST_METRICS_ENABLED":     "1",
		"BIOINGEST_LIVE_FEED_ENABLED":   "",
	})
	l.EnableValidation(true)

	path := writeFile(t, "file.json", `{"sink": {"path": "file.csv"}}`)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, TransportTCP, cfg.Transport.Kind, "validation normalizes kind")
	assert.Equal(t, "0.0.0.0:7777", cfg.Transport.Address)
	assert.Equal(t, "env.csv", cfg.Sink.Path, "environment wins over files")
	assert.Equal(t, 64, cfg.Reader.ReadSize)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "lab.watch", cfg.NATS.SubjectPrefix)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.LiveFeed.Enabled, "empty values are ignored")
}

func TestLoader_EnvOverridesRejectBadValues(t *testing.T) {
	tests := map[string]string{
		"BIOINGEST_READER_READ_SIZE": "lots",
		"BIOINGEST_NATS_ENABLED":     "maybe",
		"BIOINGEST_SINK_PATH":        "bad\x00path",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := newTestLoader(map[string]string{key: value}).LoadFile("")
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.json") }},
		{"unsupported extension", func(t *testing.T) string { return writeFile(t, "cfg.toml", "a = 1") }},
		{"malformed json", func(t *testing.T) string { return writeFile(t, "cfg.json", `{"sink": `) }},
		{"malformed yaml", func(t *testing.T) string { return writeFile(t, "cfg.yaml", "sink: [unclosed") }},
		{"bad duration", func(t *testing.T) string {
			return writeFile(t, "cfg.json", `{"nats": {"reconnect_wait": "soon"}}`)
		}},
		{"type mismatch", func(t *testing.T) string {
			return writeFile(t, "cfg.json", `{"reader": {"read_size": "big"}}`)
		}},
		{"too deep", func(t *testing.T) string {
			deep := strings.Repeat(`{"a":`, maxJSONDepth+1) + "1" + strings.Repeat("}", maxJSONDepth+1)
			return writeFile(t, "cfg.json", deep)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(tt.path(t))
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown transport", func(c *Config) { c.Transport.Kind = "usb" }, "transport.kind"},
		{"channel out of range", func(c *Config) { c.Transport.Channel = 31 }, "transport.channel"},
		{"zero backlog", func(c *Config) { c.Transport.Backlog = 0 }, "transport.backlog"},
		{"tcp without address", func(c *Config) {
			c.Transport.Kind = TransportTCP
			c.Transport.Address = ""
		}, "transport.address"},
		{"zero bind attempts", func(c *Config) { c.Transport.BindAttempts = 0 }, "bind_attempts"},
		{"zero read size", func(c *Config) { c.Reader.ReadSize = 0 }, "reader.read_size"},
		{"negative pending", func(c *Config) { c.Reader.MaxPendingBytes = -1 }, "max_pending_bytes"},
		{"empty sink path", func(c *Config) { c.Sink.Path = "  " }, "sink.path"},
		{"advertise without name", func(c *Config) { c.Service.Name = "" }, "service.name"},
		{"nats without urls", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URLs = nil
		}, "nats.urls"},
		{"nats bad subject", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.SubjectPrefix = "bio ingest.*"
		}, "subject_prefix"},
		{"nats empty subject token", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.SubjectPrefix = "bioingest..records"
		}, "subject_prefix"},
		{"nats negative drain timeout", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.DrainTimeout = -time.Second
		}, "nats.drain_timeout"},
		{"nats negative circuit threshold", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.CircuitThreshold = -1
		}, "circuit_threshold"},
		{"live feed without metrics", func(c *Config) { c.LiveFeed.Enabled = true }, "metrics.enabled"},
		{"live feed route collision", func(c *Config) {
			c.Metrics.Enabled = true
			c.LiveFeed.Enabled = true
			c.LiveFeed.Path = "/health"
		}, "collides"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"reader": {"read_size": 0}}`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Reader.ReadSize)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	_, err = l.LoadFile(path)
	require.Error(t, err)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "****")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original is untouched")
}
