// Package config loads the process configuration. Both ends of a link must
// run with the same sync section because it fixes every wire width.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ticksync/internal/host"
	"ticksync/logging"
)

const (
	envAddr     = "TICKSYNC_ADDR"
	envHorizon  = "TICKSYNC_HORIZON"
	envSendRate = "TICKSYNC_SEND_RATE"
	envTickMS   = "TICKSYNC_TICK_MS"
)

// Config is the root configuration.
type Config struct {
	Sync    SyncConfig     `yaml:"sync"`
	Server  ServerConfig   `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
	Debug   DebugConfig    `yaml:"debug"`
}

// SyncConfig fixes the simulation rate and the protocol limits.
type SyncConfig struct {
	TickDuration time.Duration `yaml:"tick_duration"`
	// Horizon is the number of ticks buffered on either side of a link.
	Horizon            int `yaml:"horizon"`
	SendRate           int `yaml:"send_rate"`
	CommandCapacity    int `yaml:"command_capacity"`
	EntityIDBits       int `yaml:"entity_id_bits"`
	TypeBits           int `yaml:"type_bits"`
	CatchupStep        int `yaml:"catchup_step"`
	MaxEventsPerPacket int `yaml:"max_events_per_packet"`
	MaxDeltasPerPacket int `yaml:"max_deltas_per_packet"`
	ViewEntryLimit     int `yaml:"view_entry_limit"`
	InterpolationDelay int `yaml:"interpolation_delay"`
}

// ServerConfig holds the HTTP surface.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	WebsocketPath string `yaml:"websocket_path"`
	MetricsPath   string `yaml:"metrics_path"`
	// Entities is the number of demo entities the server spawns.
	Entities int `yaml:"entities"`
}

// DebugConfig toggles expensive verification.
type DebugConfig struct {
	CheckedPool   bool `yaml:"checked_pool"`
	EnableTracing bool `yaml:"enable_tracing"`
	// EnablePprof mounts the runtime profiler under /debug.
	EnablePprof bool `yaml:"enable_pprof"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			TickDuration:       time.Second / 50,
			Horizon:            50,
			SendRate:           2,
			CommandCapacity:    32,
			EntityIDBits:       16,
			TypeBits:           8,
			CatchupStep:        3,
			MaxEventsPerPacket: 16,
			MaxDeltasPerPacket: 256,
			ViewEntryLimit:     256,
			InterpolationDelay: 2,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			WebsocketPath: "/ws",
			MetricsPath:   "/metrics",
			Entities:      8,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML file over Default. A missing file yields the defaults.
// Environment overrides are applied last:
//
//	TICKSYNC_ADDR       server.addr
//	TICKSYNC_HORIZON    sync.horizon
//	TICKSYNC_SEND_RATE  sync.send_rate
//	TICKSYNC_TICK_MS    sync.tick_duration in milliseconds
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envAddr); v != "" {
		cfg.Server.Addr = v
	}
	for _, o := range []struct {
		key string
		dst *int
	}{
		{envHorizon, &cfg.Sync.Horizon},
		{envSendRate, &cfg.Sync.SendRate},
	} {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
		*o.dst = n
	}
	if v := os.Getenv(envTickMS); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTickMS, err)
		}
		cfg.Sync.TickDuration = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// Validate returns the first inconsistency found.
func (c *Config) Validate() error {
	s := c.Sync
	switch {
	case s.TickDuration <= 0:
		return errors.New("sync.tick_duration must be positive")
	case s.Horizon < 1:
		return errors.New("sync.horizon must be at least 1")
	case s.SendRate < 1:
		return errors.New("sync.send_rate must be at least 1")
	case s.SendRate > s.Horizon:
		return errors.New("sync.send_rate must not exceed sync.horizon")
	case s.CommandCapacity < 1:
		return errors.New("sync.command_capacity must be at least 1")
	case s.EntityIDBits < 1 || s.EntityIDBits > 32:
		return errors.New("sync.entity_id_bits must be between 1 and 32")
	case s.TypeBits < 1 || s.TypeBits > 32:
		return errors.New("sync.type_bits must be between 1 and 32")
	case s.CatchupStep < 1:
		return errors.New("sync.catchup_step must be at least 1")
	case s.MaxEventsPerPacket < 1, s.MaxDeltasPerPacket < 1, s.ViewEntryLimit < 1:
		return errors.New("sync packet limits must be at least 1")
	case s.InterpolationDelay < 0 || s.InterpolationDelay >= s.Horizon:
		return errors.New("sync.interpolation_delay must be in [0, horizon)")
	case c.Server.Addr == "":
		return errors.New("server.addr must not be empty")
	case c.Server.Entities < 0:
		return errors.New("server.entities must not be negative")
	}
	return nil
}

// Host converts the sync section into host settings.
func (c *Config) Host() host.Config {
	s := c.Sync
	return host.Config{
		Horizon:            s.Horizon,
		SendRate:           s.SendRate,
		CatchupStep:        s.CatchupStep,
		CommandCapacity:    s.CommandCapacity,
		EntityIDBits:       uint8(s.EntityIDBits),
		TypeBits:           uint8(s.TypeBits),
		MaxDeltas:          s.MaxDeltasPerPacket,
		MaxEvents:          s.MaxEventsPerPacket,
		ViewEntryLimit:     s.ViewEntryLimit,
		InterpolationDelay: s.InterpolationDelay,
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
