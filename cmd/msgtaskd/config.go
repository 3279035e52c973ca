package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-msgtask/core"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. It is read from a YAML file and then
// overridden by command-line flags.
type Config struct {
	// Name prefixes the control task and heartbeat names.
	Name string `yaml:"name"`

	// LogLevel is a zap level: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// Namespace prefixes every exported metric.
	Namespace string `yaml:"namespace"`

	// PollInterval is how often task snapshots are copied into gauges.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Producers is the number of goroutines posting to the control task.
	Producers int `yaml:"producers"`

	// Messages is the number of messages each producer posts.
	Messages int `yaml:"messages"`

	// WaitEvery makes every n-th message waitable; 0 disables.
	WaitEvery int `yaml:"wait_every"`

	// QueueCapacity bounds the control queue; 0 means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`

	// ExitPolicy is "drain" or "drop".
	ExitPolicy string `yaml:"exit_policy"`

	// Heartbeat is the pulser period; 0 disables the heartbeat.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// HeartbeatLimit stops the heartbeat after that many pulses; 0 is unbounded.
	HeartbeatLimit uint64 `yaml:"heartbeat_limit"`

	// RunFor stops the daemon after the producers finish and RunFor elapses.
	// 0 runs until a signal arrives.
	RunFor time.Duration `yaml:"run_for"`

	// ShutdownTimeout bounds the graceful stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Name:            "msgtaskd",
		LogLevel:        "info",
		MetricsAddr:     ":2112",
		Namespace:       "msgtask",
		PollInterval:    time.Second,
		Producers:       4,
		Messages:        100,
		WaitEvery:       10,
		ExitPolicy:      core.ExitDrain.String(),
		Heartbeat:       time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Producers < 0 || c.Messages < 0 || c.WaitEvery < 0 {
		return fmt.Errorf("producers, messages and wait_every must not be negative")
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must not be negative")
	}
	if c.Heartbeat < 0 || c.RunFor < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if _, err := c.exitPolicy(); err != nil {
		return err
	}
	return nil
}

func (c Config) exitPolicy() (core.ExitPolicy, error) {
	switch c.ExitPolicy {
	case "", core.ExitDrain.String():
		return core.ExitDrain, nil
	case core.ExitDrop.String():
		return core.ExitDrop, nil
	default:
		return 0, fmt.Errorf("unknown exit_policy %q", c.ExitPolicy)
	}
}

// YAML renders the configuration the way LoadConfig reads it.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
