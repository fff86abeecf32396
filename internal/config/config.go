package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the connectivity daemon.
type Config struct {
	DataDirectory string   `yaml:"data_directory"`
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
	Observer      Observer `yaml:"observer"`
	Probe         Probe    `yaml:"probe"`
	Gateway       Gateway  `yaml:"gateway"`
	History       History  `yaml:"history"`
}

// Observer selects and tunes the network-change observer.
type Observer struct {
	Mode                string `yaml:"mode"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	DebounceMillis      int    `yaml:"debounce_millis"`
}

// Probe configures the periodic reachability probe.
type Probe struct {
	Enabled         bool   `yaml:"enabled"`
	Method          string `yaml:"method"`
	Target          string `yaml:"target"`
	DNSName         string `yaml:"dns_name"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Gateway configures the default gateway lookup.
type Gateway struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// History bounds the persisted transition and probe history.
type History struct {
	MaxEntries int `yaml:"max_entries"`
}

const (
	ModeAuto    = "auto"
	ModeNetlink = "netlink"
	ModePoll    = "poll"

	ProbeTCP = "tcp"
	ProbeDNS = "dns"
)

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		DataDirectory: filepath.Join(".dist", "data"),
		LogLevel:      "info",
		LogFormat:     "text",
		Observer: Observer{
			Mode:                ModeAuto,
			PollIntervalSeconds: 30,
			DebounceMillis:      500,
		},
		Probe: Probe{
			Enabled:         true,
			Method:          ProbeTCP,
			Target:          "1.1.1.1",
			DNSName:         "example.com",
			IntervalSeconds: 60,
			TimeoutSeconds:  4,
		},
		Gateway: Gateway{TimeoutSeconds: 3},
		History: History{MaxEntries: 2048},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	if c.DataDirectory == "" {
		c.DataDirectory = def.DataDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		c.LogFormat = "text"
	case "json":
		c.LogFormat = "json"
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}

	c.Observer.Mode = strings.ToLower(strings.TrimSpace(c.Observer.Mode))
	switch c.Observer.Mode {
	case "":
		c.Observer.Mode = ModeAuto
	case ModeAuto, ModeNetlink, ModePoll:
	default:
		return fmt.Errorf("unsupported observer mode %q", c.Observer.Mode)
	}
	if c.Observer.PollIntervalSeconds <= 0 {
		c.Observer.PollIntervalSeconds = def.Observer.PollIntervalSeconds
	}
	if c.Observer.DebounceMillis < 0 {
		c.Observer.DebounceMillis = def.Observer.DebounceMillis
	}

	c.Probe.Method = strings.ToLower(strings.TrimSpace(c.Probe.Method))
	switch c.Probe.Method {
	case "":
		c.Probe.Method = ProbeTCP
	case ProbeTCP, ProbeDNS:
	default:
		return fmt.Errorf("unsupported probe method %q", c.Probe.Method)
	}
	if strings.TrimSpace(c.Probe.Target) == "" {
		c.Probe.Target = def.Probe.Target
	}
	if c.Probe.Method == ProbeDNS && strings.TrimSpace(c.Probe.DNSName) == "" {
		c.Probe.DNSName = def.Probe.DNSName
	}
	if c.Probe.IntervalSeconds <= 0 {
		c.Probe.IntervalSeconds = def.Probe.IntervalSeconds
	}
	if c.Probe.TimeoutSeconds <= 0 {
		c.Probe.TimeoutSeconds = def.Probe.TimeoutSeconds
	}

	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = def.Gateway.TimeoutSeconds
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = def.History.MaxEntries
	}
	return nil
}

// PollInterval returns the polling observer period.
func (o Observer) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// Debounce returns the quiet period applied to netlink bursts.
func (o Observer) Debounce() time.Duration {
	return time.Duration(o.DebounceMillis) * time.Millisecond
}

// Interval returns the time between probes.
func (p Probe) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Timeout returns the per-probe deadline.
func (p Probe) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Timeout returns the deadline for a single gateway lookup.
func (g Gateway) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(raw)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported log_level %q", raw)
	}
	return level, nil
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
