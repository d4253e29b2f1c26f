package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/voket/relay"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/pattern"
	"github.com/voket/relay/utils/env"
)

// BackoffConfig tunes the cooldown state machine. Durations are strings in
// time.ParseDuration format, e.g. "30s".
type BackoffConfig struct {
	Base                 string `yaml:"base"`
	Cap                  string `yaml:"cap"`
	QuarantineThreshold  int    `yaml:"quarantine_threshold"`
	QuarantineMultiplier int    `yaml:"quarantine_multiplier"`
}

// PatternsConfig tunes the pattern store.
type PatternsConfig struct {
	Capacity int    `yaml:"capacity"`
	Decay    string `yaml:"decay"`
	HalfLife string `yaml:"half_life"`
	Window   string `yaml:"window"`
}

// Config represents the full application configuration.
type Config struct {
	// Valkey (open-source version of Redis) endpoint to keep the state
	// snapshot in instead of a local file. E.g., localhost:6379
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// API key callers must present in the Authorization header with the
	// Bearer scheme. Empty disables the check.
	ApiKey string `yaml:"api_key"`

	// Port to listen for incoming requests.
	Port int `yaml:"port"`

	// Path of the state snapshot file. Ignored when ValkeyEndpoint is set.
	StatePath string `yaml:"state_path"`

	// Interval between background snapshot flushes. E.g., 1m
	FlushInterval string `yaml:"flush_interval"`

	// Flush after this many completed calls, in addition to the interval.
	// 0 disables the call-count trigger.
	FlushEveryCalls int64 `yaml:"flush_every_calls"`

	Backoff BackoffConfig `yaml:"backoff"`

	Patterns PatternsConfig `yaml:"patterns"`

	// Per-provider period capacities and global priority.
	Providers relay.ProvidersConfig `yaml:"providers"`

	// Per-task-class cost estimate and provider preference order.
	TaskClasses relay.TaskClassesConfig `yaml:"task_classes"`
}

// LoadConfig loads the configuration from the specified path, then overlays
// environment variables on top of the YAML values.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	// Setting default values
	config := Config{
		Port:            8080,
		StatePath:       "data/relay_state.json",
		FlushInterval:   "1m",
		FlushEveryCalls: 25,
		Backoff: BackoffConfig{
			Base:                 "30s",
			Cap:                  "10m",
			QuarantineThreshold:  3,
			QuarantineMultiplier: 10,
		},
		Patterns: PatternsConfig{
			Capacity: 20,
			Decay:    string(pattern.DecayExponential),
			HalfLife: "168h",
		},
		Providers:   relay.ProvidersConfig{},
		TaskClasses: relay.TaskClassesConfig{},
	}

	// Checks if config is specified via environment variable.
	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")
	configData, err := func(configSource string, configToken string) ([]byte, error) {
		if strings.HasPrefix(configSource, "http://") || strings.HasPrefix(configSource, "https://") {
			logger.Infow("Fetching remote config", "url", configSource)
			return fetchRemoteConfig(configSource, configToken)
		}
		logger.Infow("Loading local config", "path", configSource)
		return os.ReadFile(configSource)
	}(configSource, configToken)

	if err != nil {
		return nil, fmt.Errorf("failed to get config data: %v", err)
	}

	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	// Values from environment variables precede the values from the YAML file.
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.ApiKey = env.OptionalStringVariable("RELAY_API_KEY", config.ApiKey)
	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.StatePath = env.OptionalStringVariable("STATE_PATH", config.StatePath)
	config.FlushInterval = env.OptionalStringVariable("FLUSH_INTERVAL", config.FlushInterval)

	return &config, nil
}

// CooldownConfig resolves the backoff section into the cooldown manager's
// configuration.
func (c *Config) CooldownConfig() (cooldown.Config, error) {
	cfg := cooldown.DefaultConfig()

	base, err := time.ParseDuration(c.Backoff.Base)
	if err != nil {
		return cooldown.Config{}, fmt.Errorf("invalid backoff base: %v", err)
	}
	backoffCap, err := time.ParseDuration(c.Backoff.Cap)
	if err != nil {
		return cooldown.Config{}, fmt.Errorf("invalid backoff cap: %v", err)
	}

	cfg.BackoffBase = base
	cfg.BackoffCap = backoffCap
	if c.Backoff.QuarantineThreshold > 0 {
		cfg.QuarantineThreshold = c.Backoff.QuarantineThreshold
	}
	if c.Backoff.QuarantineMultiplier > 0 {
		cfg.QuarantineMultiplier = c.Backoff.QuarantineMultiplier
	}
	return cfg, nil
}

// PatternConfig resolves the patterns section into the pattern store's
// configuration.
func (c *Config) PatternConfig() (pattern.Config, error) {
	cfg := pattern.DefaultConfig()
	if c.Patterns.Capacity > 0 {
		cfg.Capacity = c.Patterns.Capacity
	}

	switch pattern.DecayKind(c.Patterns.Decay) {
	case pattern.DecayExponential, pattern.DecayLinear, pattern.DecayNone:
		cfg.Decay = pattern.DecayKind(c.Patterns.Decay)
	case "":
	default:
		return pattern.Config{}, fmt.Errorf("unknown decay kind %q", c.Patterns.Decay)
	}

	if c.Patterns.HalfLife != "" {
		halfLife, err := time.ParseDuration(c.Patterns.HalfLife)
		if err != nil {
			return pattern.Config{}, fmt.Errorf("invalid half life: %v", err)
		}
		cfg.HalfLife = halfLife
	}
	if c.Patterns.Window != "" {
		window, err := time.ParseDuration(c.Patterns.Window)
		if err != nil {
			return pattern.Config{}, fmt.Errorf("invalid decay window: %v", err)
		}
		cfg.Window = window
	}
	return cfg, nil
}

// FlushIntervalDuration parses the flush interval.
func (c *Config) FlushIntervalDuration() (time.Duration, error) {
	interval, err := time.ParseDuration(c.FlushInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid flush interval: %v", err)
	}
	return interval, nil
}

func fetchRemoteConfig(url string, token string) ([]byte, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
