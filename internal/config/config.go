// Package config layers defaults, an optional pagesplit.yaml, PAGESPLIT_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagesplit/pagesplit/internal/goals"
)

type PublisherConfig struct {
	Kind       string        `mapstructure:"kind"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Config struct {
	DB         string            `mapstructure:"db"`
	Port       int               `mapstructure:"port"`
	Token      string            `mapstructure:"token"`
	LogLevel   string            `mapstructure:"log_level"`
	LogPretty  bool              `mapstructure:"log_pretty"`
	UpsertMode string            `mapstructure:"upsert_mode"`
	Publisher  PublisherConfig   `mapstructure:"publisher"`
	GoalTypes  []goals.EventType `mapstructure:"goal_types"`
}

// New returns a viper instance with defaults and environment lookup set
// up. Flags are bound onto it by the caller before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("db", "./pagesplit.db")
	v.SetDefault("port", 8080)
	v.SetDefault("token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("upsert_mode", "atomic")
	v.SetDefault("publisher.kind", "log")
	v.SetDefault("publisher.webhook_url", "")
	v.SetDefault("publisher.timeout", time.Minute)

	v.SetEnvPrefix("PAGESPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Look for config in the current directory and ./config
	v.SetConfigName("pagesplit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return v
}

// Load reads the config file if there is one and decodes everything.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
