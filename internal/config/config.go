package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"subforge/internal/model"
	"subforge/internal/singbox"
	"subforge/internal/subscription"
)

type Config struct {
	Data     DataConfig            `yaml:"data"`
	Fetch    FetchConfig           `yaml:"fetch"`
	Engine   EngineConfig          `yaml:"engine"`
	Probe    ProbeConfig           `yaml:"probe"`
	GeoIP    GeoIPConfig           `yaml:"geoip"`
	Schedule ScheduleConfig        `yaml:"schedule"`
	Routing  model.RoutingSettings `yaml:"routing"`
	Output   OutputConfig          `yaml:"output"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
	// HistoryPath is the sqlite file holding probe history. Relative paths
	// are resolved against Dir.
	HistoryPath string `yaml:"history_path"`
}

type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Proxy is an optional upstream SOCKS5 address (host:port).
	Proxy      string                  `yaml:"proxy"`
	MaxBodyMB  int64                   `yaml:"max_body_mb"`
	Identities []subscription.Identity `yaml:"identities"`
	// Through lists node ids raced through the engine to find a working
	// proxy for subscription downloads. Proxy is the fallback.
	Through []string `yaml:"through"`
}

type EngineConfig struct {
	Path string `yaml:"path"`
	// Validate runs "sing-box check" on every build when the engine is available.
	Validate bool `yaml:"validate"`

	// Capabilities is filled once at start-up by singbox.Detect.
	Capabilities singbox.Capabilities `yaml:"-"`
}

type ProbeConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	Retries      int           `yaml:"retries"`
}

type GeoIPConfig struct {
	CountryPath string `yaml:"country_path"`
	ASNPath     string `yaml:"asn_path"`
}

type ScheduleConfig struct {
	// Update is a cron spec; "@every 6h" style descriptors are accepted.
	Update string `yaml:"update"`
	// Rebuild writes the runtime config again after each scheduled update.
	Rebuild bool `yaml:"rebuild"`
}

type OutputConfig struct {
	Path       string            `yaml:"path"`
	Publishers []PublisherConfig `yaml:"publishers"`
}

type PublisherConfig struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.Data.Dir = "data"
	cfg.Data.HistoryPath = "history.db"
	cfg.Fetch.Timeout = 30 * time.Second
	cfg.Fetch.MaxBodyMB = 10
	cfg.Fetch.Identities = subscription.DefaultIdentities()
	cfg.Engine.Path = "sing-box"
	cfg.Engine.Validate = true
	cfg.Probe.URL = "https://www.gstatic.com/generate_204"
	cfg.Probe.Timeout = 5 * time.Second
	cfg.Probe.StartTimeout = 10 * time.Second
	cfg.GeoIP.CountryPath = "GeoLite2-Country.mmdb"
	cfg.Schedule.Update = "@every 6h"
	cfg.Schedule.Rebuild = true
	cfg.Routing = model.DefaultRoutingSettings()
	cfg.Output.Path = "sing-box.json"
	return &cfg
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if len(cfg.Fetch.Identities) == 0 {
		cfg.Fetch.Identities = subscription.DefaultIdentities()
	}
	if cfg.Fetch.MaxBodyMB <= 0 {
		cfg.Fetch.MaxBodyMB = 10
	}
	if cfg.Probe.Retries < 0 {
		cfg.Probe.Retries = 0
	}
	return cfg, nil
}

// HistoryDB returns the probe history path, resolved against the data dir.
func (c *Config) HistoryDB() string {
	if c.Data.HistoryPath == "" || filepath.IsAbs(c.Data.HistoryPath) {
		return c.Data.HistoryPath
	}
	return filepath.Join(c.Data.Dir, c.Data.HistoryPath)
}

func (c *Config) FilterPublishers(names []string) {
	if len(names) == 0 {
		return
	}
	whitelist := make(map[string]bool)
	for _, n := range names {
		whitelist[n] = true
	}
	var filtered []PublisherConfig
	for _, item := range c.Output.Publishers {
		if whitelist[item.Name] {
			filtered = append(filtered, item)
		}
	}
	c.Output.Publishers = filtered
}
