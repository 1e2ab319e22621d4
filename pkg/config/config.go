package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

const (
	ModeConcurrent = "concurrent"
	ModeSequential = "sequential"

	PolicyContinue = "continue"
	PolicyAbort    = "abort"
)

// Config is the whole flowratio configuration file.
type Config struct {
	Mode           string      `yaml:"mode"`
	Policy         string      `yaml:"policy"`
	Schedule       string      `yaml:"schedule"`
	Simulate       bool        `yaml:"simulate"`
	HTTPTimeoutSec int         `yaml:"http_timeout_sec"`
	Interfaces     []Interface `yaml:"interfaces"`
	Speedtest      Speedtest   `yaml:"speedtest"`
	Prometheus     Prometheus  `yaml:"prometheus"`
	Publish        Publish     `yaml:"publish"`
	Redis          Redis       `yaml:"redis"`
	Pushgateway    Pushgateway `yaml:"pushgateway"`
	Log            Log         `yaml:"log"`
}

// Interface pairs the local NIC with the name it is published under.
type Interface struct {
	Name        string `yaml:"name"`
	PublishName string `yaml:"publish_name"`
}

type Speedtest struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	ServerID          string   `yaml:"server_id"`
	TimeoutSec        int      `yaml:"timeout_sec"`
	LaunchIntervalSec int      `yaml:"launch_interval_sec"`
}

type Prometheus struct {
	URL    string `yaml:"url"`
	Metric string `yaml:"metric"`
	Label  string `yaml:"label"`
}

type Publish struct {
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
	DryRun bool   `yaml:"dry_run"`
}

type Redis struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	LockTTLSec int    `yaml:"lock_ttl_sec"`
}

type Pushgateway struct {
	URL      string `yaml:"url"`
	Job      string `yaml:"job"`
	Instance string `yaml:"instance"`
}

type Log struct {
	Mode  string `yaml:"mode"` // production or development
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LoadConfig reads the YAML file at path (skipped when path is empty), applies
// FLOWRATIO_* environment overrides and defaults, then validates.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Prometheus.URL = getEnv("FLOWRATIO_PROMETHEUS_URL", c.Prometheus.URL)
	c.Publish.URL = getEnv("FLOWRATIO_PUBLISH_URL", c.Publish.URL)
	c.Redis.Addr = getEnv("FLOWRATIO_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("FLOWRATIO_REDIS_PASSWORD", c.Redis.Password)
	c.Pushgateway.URL = getEnv("FLOWRATIO_PUSHGATEWAY_URL", c.Pushgateway.URL)
	c.Log.Level = getEnv("FLOWRATIO_LOG_LEVEL", c.Log.Level)
	c.Schedule = getEnv("FLOWRATIO_SCHEDULE", c.Schedule)

	if raw := os.Getenv("FLOWRATIO_SIMULATE"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Simulate = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeConcurrent
	}
	if c.Policy == "" {
		c.Policy = PolicyContinue
	}
	if c.HTTPTimeoutSec <= 0 {
		c.HTTPTimeoutSec = 10
	}
	if len(c.Interfaces) == 0 {
		c.Interfaces = []Interface{
			{Name: "eth0", PublishName: "wan0"},
			{Name: "eth1", PublishName: "wan1"},
		}
	}
	if c.Speedtest.Command == "" {
		c.Speedtest.Command = "speedtest"
	}
	if c.Speedtest.Args == nil {
		c.Speedtest.Args = []string{"--accept-license"}
	}
	if c.Speedtest.ServerID == "" {
		c.Speedtest.ServerID = "48463"
	}
	if c.Speedtest.TimeoutSec <= 0 {
		c.Speedtest.TimeoutSec = 120
	}
	if c.Prometheus.URL == "" {
		c.Prometheus.URL = "http://localhost:9090"
	}
	if c.Prometheus.Metric == "" {
		c.Prometheus.Metric = "tcp_traffic_scan_tcp_bandwidth_avg_bps"
	}
	if c.Prometheus.Label == "" {
		c.Prometheus.Label = "interface"
	}
	if c.Publish.URL == "" {
		c.Publish.URL = "http://localhost:32600"
	}
	if c.Publish.Path == "" {
		c.Publish.Path = "/tcpflow"
	}
	if c.Redis.LockTTLSec <= 0 {
		c.Redis.LockTTLSec = c.Speedtest.TimeoutSec + 60
	}
	if c.Pushgateway.Job == "" {
		c.Pushgateway.Job = "flowratio"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeConcurrent, ModeSequential:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeConcurrent, ModeSequential, c.Mode)
	}
	switch c.Policy {
	case PolicyContinue, PolicyAbort:
	default:
		return fmt.Errorf("policy must be %q or %q, got %q", PolicyContinue, PolicyAbort, c.Policy)
	}

	seen := make(map[string]bool, len(c.Interfaces))
	for i, iface := range c.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("interfaces[%d].name cannot be empty", i)
		}
		if iface.PublishName == "" {
			return fmt.Errorf("interfaces[%d].publish_name cannot be empty", i)
		}
		if !model.LabelValue(iface.Name).IsValid() {
			return fmt.Errorf("interfaces[%d].name %q is not a valid label value", i, iface.Name)
		}
		if seen[iface.Name] {
			return fmt.Errorf("interface %s configured twice", iface.Name)
		}
		seen[iface.Name] = true
	}

	if c.Speedtest.LaunchIntervalSec < 0 {
		return fmt.Errorf("speedtest.launch_interval_sec cannot be negative")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db cannot be negative")
	}
	if c.Log.Mode != "production" && c.Log.Mode != "development" {
		return fmt.Errorf("log.mode must be production or development")
	}
	return nil
}

// HTTPTimeout bounds each metrics query and publish request.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// SpeedtestTimeout bounds one speed test process.
func (c *Config) SpeedtestTimeout() time.Duration {
	return time.Duration(c.Speedtest.TimeoutSec) * time.Second
}

// LaunchInterval is the minimum spacing between speed test starts.
func (c *Config) LaunchInterval() time.Duration {
	return time.Duration(c.Speedtest.LaunchIntervalSec) * time.Second
}

// LockTTL is how long an interface lock survives a crashed holder.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSec) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
