package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Mailbox     MailboxConfig
	Database    DatabaseConfig
	Poll        PollConfig
	Retry       RetryConfig
	Attachments AttachmentsConfig
	LLM         LLMConfig
	Metrics     MetricsConfig
	Log         LogConfig
}

// MailboxConfig identifies the account being tracked.
type MailboxConfig struct {
	Address string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// PollConfig controls the incremental poll loop.
type PollConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	OverlapMinutes  int `mapstructure:"overlap_minutes"`
	LookbackHours   int `mapstructure:"lookback_hours"`
}

// RetryConfig controls the bounded retry of the analyzer stages.
type RetryConfig struct {
	MaxAttempts  int `mapstructure:"max_attempts"`
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// AttachmentsConfig controls the best-effort attachment download.
type AttachmentsConfig struct {
	Download bool
	Dir      string
}

// LLMConfig holds oracle settings.
type LLMConfig struct {
	Model     string
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	Enabled    bool
	ListenAddr string `mapstructure:"listen_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Interval returns the poll interval as a duration.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Overlap returns the safety overlap as a duration.
func (p PollConfig) Overlap() time.Duration {
	return time.Duration(p.OverlapMinutes) * time.Minute
}

// Lookback returns the first-run lookback as a duration.
func (p PollConfig) Lookback() time.Duration {
	return time.Duration(p.LookbackHours) * time.Hour
}

// Delay returns the retry delay as a duration.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// ResolveAPIKey returns the configured API key, preferring the explicit value
// over the named environment variable.
func (l LLMConfig) ResolveAPIKey() string {
	if k := strings.TrimSpace(l.APIKey); k != "" {
		return k
	}
	if l.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(l.APIKeyEnv))
	}
	return ""
}

// Load reads configuration from file and env. Env var overrides use prefix
// MAILLEDGER_, with dots replaced by underscores (MAILLEDGER_RETRY_MAX_ATTEMPTS).
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("mailbox.address", "")
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "mailledger", "mailledger.db"))
	v.SetDefault("poll.interval_seconds", 10800)
	v.SetDefault("poll.overlap_minutes", 10)
	v.SetDefault("poll.lookback_hours", 24)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay_seconds", 60)
	v.SetDefault("attachments.download", true)
	v.SetDefault("attachments.dir", ".attachments")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("MAILLEDGER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "mailledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MAILLEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.DelaySeconds < 0 {
		return fmt.Errorf("retry.delay_seconds must not be negative, got %d", c.Retry.DelaySeconds)
	}
	if c.Poll.IntervalSeconds < 1 {
		return fmt.Errorf("poll.interval_seconds must be at least 1, got %d", c.Poll.IntervalSeconds)
	}
	if c.Poll.OverlapMinutes < 0 {
		return fmt.Errorf("poll.overlap_minutes must not be negative, got %d", c.Poll.OverlapMinutes)
	}
	if c.Poll.LookbackHours < 1 {
		return fmt.Errorf("poll.lookback_hours must be at least 1, got %d", c.Poll.LookbackHours)
	}
	return nil
}
