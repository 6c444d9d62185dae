package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/session"
)

type Client struct {
	URL              string     `yaml:"url"`
	PlayerName       string     `yaml:"player_name"`
	DataDir          string     `yaml:"data_dir"`
	Journal          bool       `yaml:"journal"`
	ValidateInbound  bool       `yaml:"validate_inbound"`
	QueueCap         int        `yaml:"queue_cap"`
	Reconnect        Backoff    `yaml:"reconnect"`
	ExtraExemptZones []ZoneSpec `yaml:"extra_exempt_zones,omitempty"`
}

type Backoff struct {
	MinMS int `yaml:"min_ms"`
	MaxMS int `yaml:"max_ms"`
}

func (b Backoff) Min() time.Duration { return ms(b.MinMS) }
func (b Backoff) Max() time.Duration { return ms(b.MaxMS) }

func DefaultClient() Client {
	return Client{
		URL:             "ws://127.0.0.1:8080/v1/ws",
		DataDir:         "./data/client",
		Journal:         true,
		ValidateInbound: true,
		QueueCap:        session.DefaultQueueCap,
		Reconnect:       Backoff{MinMS: 200, MaxMS: 5000},
	}
}

// LoadClient reads path over DefaultClient and applies RS_CLIENT_* env vars.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if strings.TrimSpace(path) != "" {
		if err := readYAML(path, "client.yaml", &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("client.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Client) applyEnv() {
	c.URL = envString("RS_CLIENT_URL", c.URL)
	c.PlayerName = envString("RS_PLAYER_NAME", c.PlayerName)
	c.DataDir = envString("RS_CLIENT_DATA_DIR", c.DataDir)
	c.Journal = envBool("RS_CLIENT_JOURNAL", c.Journal)
	c.ValidateInbound = envBool("RS_CLIENT_VALIDATE", c.ValidateInbound)
}

func (c *Client) Normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.PlayerName = strings.TrimSpace(c.PlayerName)
	if c.QueueCap <= 0 {
		c.QueueCap = session.DefaultQueueCap
	}
	if c.Reconnect.MinMS <= 0 {
		c.Reconnect.MinMS = 200
	}
	if c.Reconnect.MaxMS < c.Reconnect.MinMS {
		c.Reconnect.MaxMS = c.Reconnect.MinMS
	}
}

func (c Client) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	return validateZones("extra_exempt_zones", c.ExtraExemptZones)
}

func (c Client) ExemptZones() []protocol.Zone { return zones(c.ExtraExemptZones) }
