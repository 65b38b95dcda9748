// Package config loads service settings from an optional YAML file and
// NIDS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "NIDS"

type Config struct {
	Env       string          `mapstructure:"env"`
	LogLevel  string          `mapstructure:"log_level"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Model     ModelConfig     `mapstructure:"model"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Logo      LogoConfig      `mapstructure:"logo"`
	Startup   StartupConfig   `mapstructure:"startup"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Briefing  BriefingConfig  `mapstructure:"briefing"`
	TLS       TLSConfig       `mapstructure:"tls"`
}

type HTTPConfig struct {
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type ModelConfig struct {
	Kind    string        `mapstructure:"kind"`
	Path    string        `mapstructure:"path"`
	ID      string        `mapstructure:"id"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

type LogoConfig struct {
	Path string `mapstructure:"path"`
}

type StartupConfig struct {
	// FailFast refuses to serve when an artifact cannot be loaded.
	FailFast bool `mapstructure:"fail_fast"`
}

type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type RateLimitConfig struct {
	DetectPerMinute int `mapstructure:"detect_per_minute"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type BriefingConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Region   string `mapstructure:"region"`
}

type TLSConfig struct {
	Domain  string `mapstructure:"domain"`
	Email   string `mapstructure:"email"`
	Staging bool   `mapstructure:"staging"`
}

// Production reports whether cookies should be marked Secure.
func (c *Config) Production() bool { return c.Env == "production" || c.TLS.Domain != "" }

// SetDefaults registers every key so environment overrides are picked up
// even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("model.kind", "loom")
	v.SetDefault("model.path", "Network_Intrusion_Detection.json")
	v.SetDefault("model.id", "")
	v.SetDefault("model.url", "")
	v.SetDefault("model.timeout", 10*time.Second)
	v.SetDefault("dataset.path", "Network_Intrusion_Detection_Dataset.csv")
	v.SetDefault("logo.path", "logo.webp")
	v.SetDefault("startup.fail_fast", true)
	v.SetDefault("session.idle_timeout", 24*time.Hour)
	v.SetDefault("ratelimit.detect_per_minute", 30)
	v.SetDefault("database.url", "")
	v.SetDefault("briefing.provider", "anthropic")
	v.SetDefault("briefing.api_key", "")
	v.SetDefault("briefing.model", "")
	v.SetDefault("briefing.region", "")
	v.SetDefault("tls.domain", "")
	v.SetDefault("tls.email", "")
	v.SetDefault("tls.staging", false)
}

// New returns a viper instance wired for NIDS_* environment variables,
// e.g. NIDS_MODEL_PATH or NIDS_DATABASE_URL.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	switch c.Model.Kind {
	case "loom":
		if c.Model.Path == "" {
			errs = append(errs, errors.New("model.path is required for kind loom"))
		}
	case "remote":
		if c.Model.URL == "" {
			errs = append(errs, errors.New("model.url is required for kind remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.kind %q not supported (loom, remote)", c.Model.Kind))
	}
	if c.Dataset.Path == "" {
		errs = append(errs, errors.New("dataset.path is required"))
	}
	if c.RateLimit.DetectPerMinute < 0 {
		errs = append(errs, errors.New("ratelimit.detect_per_minute must not be negative"))
	}
	return errors.Join(errs...)
}
