package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Judit       JuditConfig       `yaml:"judit" mapstructure:"judit"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Attachments AttachmentsConfig `yaml:"attachments" mapstructure:"attachments"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// JuditConfig holds judicial data provider settings.
type JuditConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	CallbackURL     string `yaml:"callback_url" mapstructure:"callback_url"`
	CacheTTLDays    int    `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerMinute   int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	WithAttachments bool   `yaml:"with_attachments" mapstructure:"with_attachments"`
}

// Timeout returns the provider HTTP timeout as a duration.
func (c JuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// QueueConfig configures the background worker.
type QueueConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	PollSecs    int `yaml:"poll_secs" mapstructure:"poll_secs"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffSecs int `yaml:"backoff_secs" mapstructure:"backoff_secs"`
}

// AttachmentsConfig configures attachment downloads.
type AttachmentsConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// AnthropicConfig holds Anthropic API settings for optional timeline
// enrichment. An empty key disables the feature.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
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
	v.SetEnvPrefix("CASESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "casesync.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("judit.key", "")
	v.SetDefault("judit.callback_url", "")
	v.SetDefault("judit.base_url", "https://requests.prod.judit.io")
	v.SetDefault("judit.cache_ttl_days", 3)
	v.SetDefault("judit.timeout_secs", 30)
	v.SetDefault("judit.rate_per_minute", 60)
	v.SetDefault("judit.with_attachments", true)
	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.poll_secs", 2)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_secs", 5)
	v.SetDefault("attachments.dir", "attachments")
	v.SetDefault("attachments.max_concurrent", 5)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
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
