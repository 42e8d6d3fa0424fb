package statwatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/kworkstat/statwatch/internal/schedule"
)

// Browser modes.
const (
	ModeHeadless = "headless"
	ModeHTTP     = "http"
)

// Config holds all statwatch configuration.
type Config struct {
	DBPath       string          `yaml:"db_path"`
	DashboardURL string          `yaml:"dashboard_url"`
	Collector    CollectorConfig `yaml:"collector"`
	Browser      BrowserConfig   `yaml:"browser"`
	HTTP         HTTPConfig      `yaml:"http"`
	Watch        WatchConfig     `yaml:"watch"`
}

// CollectorConfig controls the collection cycle.
type CollectorConfig struct {
	// LoadDelay separates opening the visit from injecting extraction.
	LoadDelay time.Duration `yaml:"load_delay"`
	// RenderDelay is waited inside the visit before reading the page.
	RenderDelay time.Duration `yaml:"render_delay"`
	// GraceDelay separates injection from teardown.
	GraceDelay    time.Duration `yaml:"grace_delay"`
	ChannelBuffer int           `yaml:"channel_buffer"`
	// DefaultInterval seeds the stored interval (minutes) on first start.
	// 0 leaves the store default of 1 minute.
	DefaultInterval float64 `yaml:"default_interval"`
}

// BrowserConfig controls the visit host.
type BrowserConfig struct {
	// Mode is "headless" (Chrome via Rod) or "http" (plain GET).
	Mode             string        `yaml:"mode"`
	Remote           string        `yaml:"remote"`
	Stealth          *bool         `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
}

// HTTPConfig controls the viewer/config API. Empty Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// WatchConfig controls how often the stored interval is checked for
// changes made by other processes.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "statwatch.db"
	}
	if c.DashboardURL == "" {
		c.DashboardURL = schedule.DefaultURL
	}
	if c.Collector.LoadDelay <= 0 {
		c.Collector.LoadDelay = 3 * time.Second
	}
	if c.Collector.RenderDelay <= 0 {
		c.Collector.RenderDelay = 2 * time.Second
	}
	if c.Collector.GraceDelay <= 0 {
		c.Collector.GraceDelay = 5 * time.Second
	}
	if c.Collector.ChannelBuffer <= 0 {
		c.Collector.ChannelBuffer = 16
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = ModeHeadless
	}
	if c.Browser.Stealth == nil {
		on := true
		c.Browser.Stealth = &on
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Watch.Interval <= 0 {
		c.Watch.Interval = 5 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case ModeHeadless, ModeHTTP:
	default:
		return fmt.Errorf("statwatch: config: unknown browser mode %q", c.Browser.Mode)
	}
	if c.Collector.DefaultInterval < 0 {
		return fmt.Errorf("statwatch: config: negative default_interval")
	}
	return nil
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML config file. Missing keys take defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("statwatch: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("statwatch: parse config: %w", err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
