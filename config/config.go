// Package config loads the copilot-chat YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/copilot-chat/copilot"
	"github.com/zhubert/copilot-chat/paths"
)

// Defaults reproduce the stock setup: Qwen3 Coder through the iFlow
// OpenAI-compatible endpoint, with the key taken from IFLOW_API_KEY.
const (
	DefaultModel            = "qwen3-coder-plus"
	DefaultProviderName     = "iflow"
	DefaultTimeout          = 300 * time.Second
	DefaultDiscoveryTimeout = copilot.DefaultDiscoveryTimeout
	DefaultGracePeriod      = copilot.DefaultGracePeriod
)

var validLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Config holds the application configuration. It is loaded once at startup
// and passed to the components that need it.
type Config struct {
	CLIPath          string              `yaml:"cli_path,omitempty"`
	CLIArgs          []string            `yaml:"cli_args,omitempty"`
	LogLevel         string              `yaml:"log_level,omitempty"`
	Timeout          Duration            `yaml:"timeout,omitempty"`            // per-prompt reply bound
	DiscoveryTimeout Duration            `yaml:"discovery_timeout,omitempty"`  // models.list and session.create bound
	GracePeriod      Duration            `yaml:"grace_period,omitempty"`       // how long shutdown waits before giving up
	DefaultModel     string              `yaml:"default_model,omitempty"`      // used when no model is requested
	DefaultProvider  string              `yaml:"default_provider,omitempty"`   // provider name for DefaultModel, empty for built-in
	ModelPolicy      string              `yaml:"model_policy,omitempty"`       // "strict" or "fallback"
	FallbackProvider string              `yaml:"fallback_provider,omitempty"`  // provider name for models copilot does not offer
	Providers        map[string]Provider `yaml:"providers,omitempty"`

	filePath string
}

// Provider is a named model provider.
type Provider struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	// APIKeyEnv names an environment variable holding the key. It is
	// consulted when APIKey is empty.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	WireAPI   string `yaml:"wire_api,omitempty"`
}

// Duration is a wrapper around time.Duration that implements YAML unmarshaling
// from human-readable strings like "300s", "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		Timeout:          Duration{DefaultTimeout},
		DiscoveryTimeout: Duration{DefaultDiscoveryTimeout},
		GracePeriod:      Duration{DefaultGracePeriod},
		DefaultModel:     DefaultModel,
		DefaultProvider:  DefaultProviderName,
		ModelPolicy:      string(copilot.FallbackProvider),
		FallbackProvider: DefaultProviderName,
		Providers: map[string]Provider{
			DefaultProviderName: {
				Type:      "openai",
				BaseURL:   "https://apis.iflow.cn/v1/",
				APIKeyEnv: "IFLOW_API_KEY",
				WireAPI:   copilot.WireAPICompletions,
			},
		},
	}
}

// LoadDefault loads the config from the standard location.
func LoadDefault() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads the config at path on top of the defaults. A missing file is
// not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.filePath
}

// Validate checks that the config is internally consistent.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.LogLevel != "" && !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if c.ModelPolicy != "" {
		if _, err := copilot.ParseFallbackMode(c.ModelPolicy); err != nil {
			errs = append(errs, fmt.Errorf("model_policy: %w", err))
		}
	}

	for name, d := range map[string]Duration{
		"timeout":           c.Timeout,
		"discovery_timeout": c.DiscoveryTimeout,
		"grace_period":      c.GracePeriod,
	} {
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}

	for _, ref := range []struct{ field, name string }{
		{"default_provider", c.DefaultProvider},
		{"fallback_provider", c.FallbackProvider},
	} {
		if ref.name == "" {
			continue
		}
		if _, ok := c.Providers[ref.name]; !ok {
			errs = append(errs, fmt.Errorf("%s: no provider named %q", ref.field, ref.name))
		}
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := c.Providers[name]
		if p.Type == "" {
			errs = append(errs, fmt.Errorf("providers.%s.type: required", name))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s.base_url: required", name))
		}
		switch p.WireAPI {
		case "", copilot.WireAPICompletions, copilot.WireAPIResponses:
		default:
			errs = append(errs, fmt.Errorf("providers.%s.wire_api: must be %q or %q", name, copilot.WireAPICompletions, copilot.WireAPIResponses))
		}
	}

	return errors.Join(errs...)
}

// Provider resolves a named provider into the form sessions accept.
// The API key is read from the environment when the provider names a variable.
func (c *Config) Provider(name string) (*copilot.ProviderConfig, error) {
	p, ok := c.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider named %q", name)
	}
	key := p.APIKey
	if key == "" && p.APIKeyEnv != "" {
		key = os.Getenv(p.APIKeyEnv)
	}
	return &copilot.ProviderConfig{
		Type:    p.Type,
		BaseURL: p.BaseURL,
		APIKey:  key,
		WireAPI: p.WireAPI,
	}, nil
}

// ResolveModelPolicy builds the model selection policy.
func (c *Config) ResolveModelPolicy() (copilot.ModelPolicy, error) {
	policy := copilot.ModelPolicy{
		Fallback:     copilot.FallbackStrict,
		DefaultModel: c.DefaultModel,
	}
	if c.ModelPolicy != "" {
		mode, err := copilot.ParseFallbackMode(c.ModelPolicy)
		if err != nil {
			return copilot.ModelPolicy{}, err
		}
		policy.Fallback = mode
	}
	if c.DefaultProvider != "" {
		p, err := c.Provider(c.DefaultProvider)
		if err != nil {
			return copilot.ModelPolicy{}, fmt.Errorf("default_provider: %w", err)
		}
		policy.DefaultProvider = p
	}
	if c.FallbackProvider != "" {
		p, err := c.Provider(c.FallbackProvider)
		if err != nil {
			return copilot.ModelPolicy{}, fmt.Errorf("fallback_provider: %w", err)
		}
		policy.FallbackProvider = p
	}
	return policy, nil
}

// ClientOptions returns the Client settings carried by the config.
func (c *Config) ClientOptions() copilot.ClientOptions {
	opts := copilot.ClientOptions{
		CLIPath:          c.CLIPath,
		LogLevel:         c.LogLevel,
		DiscoveryTimeout: c.DiscoveryTimeout.Duration,
		GracePeriod:      c.GracePeriod.Duration,
	}
	if len(c.CLIArgs) > 0 {
		opts.Args = slices.Clone(c.CLIArgs)
	}
	return opts
}

// Save writes the config to the file it was loaded from. The file may hold
// API keys, so it is only readable by the owner.
func (c *Config) Save() error {
	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0600)
}

// SetFilePath sets where Save writes.
func (c *Config) SetFilePath(path string) {
	c.filePath = path
}
