package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ticksync/internal/config"
	"ticksync/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20*time.Millisecond, cfg.Sync.TickDuration)
	assert.Equal(t, 50, cfg.Sync.Horizon)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	h := cfg.Host()
	assert.Equal(t, uint8(16), h.EntityIDBits)
	require.NoError(t, h.Layout().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Sync, cfg.Sync)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticksync.yaml")
	body := `
sync:
  tick_duration: 50ms
  horizon: 32
  send_rate: 4
server:
  addr: "127.0.0.1:9000"
logging:
  minimum_severity: warn
  sinks: [console, json]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.TickDuration)
	assert.Equal(t, 32, cfg.Sync.Horizon)
	assert.Equal(t, 4, cfg.Sync.SendRate)
	assert.Equal(t, 32, cfg.Sync.CommandCapacity, "unset keys keep defaults")
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, logging.SeverityWarn, cfg.Logging.MinimumSeverity)
	assert.True(t, cfg.Logging.HasSink(logging.SinkJSON))
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync: [unterminated"), 0o600))
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKSYNC_ADDR", ":7000")
	t.Setenv("TICKSYNC_HORIZON", "64")
	t.Setenv("TICKSYNC_SEND_RATE", "3")
	t.Setenv("TICKSYNC_TICK_MS", "10")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 64, cfg.Sync.Horizon)
	assert.Equal(t, 3, cfg.Sync.SendRate)
	assert.Equal(t, 10*time.Millisecond, cfg.Sync.TickDuration)

	t.Setenv("TICKSYNC_HORIZON", "lots")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero horizon":         func(c *config.Config) { c.Sync.Horizon = 0 },
		"send rate > horizon":  func(c *config.Config) { c.Sync.SendRate = c.Sync.Horizon + 1 },
		"zero capacity":        func(c *config.Config) { c.Sync.CommandCapacity = 0 },
		"wide entity ids":      func(c *config.Config) { c.Sync.EntityIDBits = 33 },
		"zero type bits":       func(c *config.Config) { c.Sync.TypeBits = 0 },
		"negative tick":        func(c *config.Config) { c.Sync.TickDuration = -time.Second },
		"delay beyond horizon": func(c *config.Config) { c.Sync.InterpolationDelay = c.Sync.Horizon },
		"empty addr":           func(c *config.Config) { c.Server.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Horizon = 40
	data, err := cfg.YAML()
	require.NoError(t, err)

	var back config.Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg.Sync, back.Sync)
	assert.Equal(t, cfg.Logging.MinimumSeverity, back.Logging.MinimumSeverity)
}
