package config

import (
	"fmt"
	"strings"
	"time"

	"realmsync.ai/internal/protocol"
)

type Server struct {
	Listen             string        `yaml:"listen"`
	DataDir            string        `yaml:"data_dir"`
	Journal            bool          `yaml:"journal"`
	SnapshotIntervalMS int           `yaml:"snapshot_interval_ms"`
	Throttle           ThrottleSpec  `yaml:"throttle"`
	RateLimit          RateLimitSpec `yaml:"rate_limit"`
	// ExemptZones is what the server expects clients to render immediately;
	// clients carry their own table.
	ExemptZones []ZoneSpec `yaml:"exempt_zones,omitempty"`
}

type ThrottleSpec struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMS      int  `yaml:"interval_ms"`
	OverrideAllowed bool `yaml:"override_allowed"`
}

func (t ThrottleSpec) Wire() protocol.ThrottleConfig {
	return protocol.ThrottleConfig{Enabled: t.Enabled, IntervalMS: t.IntervalMS, OverrideAllowed: t.OverrideAllowed}
}

type RateLimitSpec struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func DefaultServer() Server {
	return Server{
		Listen:             ":8080",
		DataDir:            "./data/server",
		Journal:            true,
		SnapshotIntervalMS: 2000,
		Throttle:           ThrottleSpec{Enabled: true, IntervalMS: 10000, OverrideAllowed: true},
		RateLimit:          RateLimitSpec{PerSecond: 5, Burst: 10},
		ExemptZones: []ZoneSpec{
			{Map: "wb", Room: "lair"},
			{Map: "xs", Room: "arena"},
			{Map: "siege", Room: "keep"},
		},
	}
}

// LoadServer reads path over DefaultServer and applies RS_SERVER_* env vars.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if strings.TrimSpace(path) != "" {
		if err := readYAML(path, "server.yaml", &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Server) applyEnv() {
	c.Listen = envString("RS_SERVER_LISTEN", c.Listen)
	c.DataDir = envString("RS_SERVER_DATA_DIR", c.DataDir)
	c.Journal = envBool("RS_SERVER_JOURNAL", c.Journal)
	c.Throttle.Enabled = envBool("RS_THROTTLE_ENABLED", c.Throttle.Enabled)
	c.Throttle.IntervalMS = envInt("RS_THROTTLE_INTERVAL_MS", c.Throttle.IntervalMS)
	c.Throttle.OverrideAllowed = envBool("RS_THROTTLE_OVERRIDE_ALLOWED", c.Throttle.OverrideAllowed)
}

func (c *Server) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	if c.SnapshotIntervalMS <= 0 {
		c.SnapshotIntervalMS = 2000
	}
	if c.Throttle.IntervalMS <= 0 {
		c.Throttle.IntervalMS = 10000
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
}

func (c Server) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must be >= 0")
	}
	return validateZones("exempt_zones", c.ExemptZones)
}

func (c Server) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMS) }
