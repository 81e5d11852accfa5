package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the on-disk data tree: cache documents, media blobs
// and saved reports all live under Dir.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// CacheConfig configures document caching.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// FetchConfig configures collection behavior.
type FetchConfig struct {
	DefaultCount   int     `yaml:"default_count" mapstructure:"default_count"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	MediaRateLimit float64 `yaml:"media_rate_limit" mapstructure:"media_rate_limit"`
	// UnsafeExternalMedia disables the CDN origin allowlist.
	UnsafeExternalMedia bool `yaml:"unsafe_external_media" mapstructure:"unsafe_external_media"`
}

// SourcesConfig holds per-source credentials and overrides.
type SourcesConfig struct {
	GitHub GitHubConfig `yaml:"github" mapstructure:"github"`
	Reddit RedditConfig `yaml:"reddit" mapstructure:"reddit"`
}

// GitHubConfig holds GitHub API settings. Token is optional; without it
// the public rate limits apply.
type GitHubConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// RedditConfig holds reddit listing API settings.
type RedditConfig struct {
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	Model           string  `yaml:"model" mapstructure:"model"`
	VisionModel     string  `yaml:"vision_model" mapstructure:"vision_model"`
	MaxTokens       int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	VisionMaxTokens int64   `yaml:"vision_max_tokens" mapstructure:"vision_max_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
}

// StoreConfig configures the run-history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OSINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("fetch.default_count", 50)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user_agent", "osint-cli/1.0")
	v.SetDefault("fetch.media_rate_limit", 2.0)
	v.SetDefault("fetch.unsafe_external_media", false)
	v.SetDefault("sources.github.token", "")
	v.SetDefault("sources.reddit.user_agent", "osint-cli/1.0 (public listing reader)")
	// Registered so the env-only value survives Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.vision_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 3500)
	v.SetDefault("anthropic.vision_max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.5)
	v.SetDefault("store.path", "data/runs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes:
// "run" needs the Anthropic key, "offline" runs without one, "serve"
// additionally needs a listen port.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(bad bool, msg string) {
		if bad {
			problems = append(problems, msg)
		}
	}

	check(c.Cache.TTLHours <= 0, "cache.ttl_hours must be > 0")
	check(c.Fetch.DefaultCount < 1 || c.Fetch.DefaultCount > 500, "fetch.default_count must be between 1 and 500")
	check(c.Data.Dir == "", "data.dir is required")
	check(c.Store.Path == "", "store.path is required")

	switch mode {
	case "run":
		check(c.Anthropic.Key == "", "anthropic.key is required")
	case "offline":
		// Cache-only: no credentials needed.
	case "serve":
		check(c.Anthropic.Key == "", "anthropic.key is required")
		check(c.Server.Port <= 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
