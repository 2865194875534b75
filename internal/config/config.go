// Package config loads service configuration from defaults, an optional
// config.yaml and the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable for both the server and client binaries.
type Config struct {
	Env       string `mapstructure:"ENV"`
	Port      int    `mapstructure:"PORT"`
	Semantics string `mapstructure:"SEMANTICS"`

	// LossProbability drives the transport's loss-injection hook.
	LossProbability float64 `mapstructure:"LOSS_PROBABILITY"`

	// Client-side knobs.
	ServerAddr     string        `mapstructure:"SERVER_ADDR"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RetryAttempts  int           `mapstructure:"RETRY_ATTEMPTS"`
}

// Load reads the configuration. Command-line flags may be bound into the
// same viper instance before calling it.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("ENV", "development")
	viper.SetDefault("PORT", 2222)
	viper.SetDefault("SEMANTICS", "at-most-once")
	viper.SetDefault("LOSS_PROBABILITY", 0.0)
	viper.SetDefault("SERVER_ADDR", "127.0.0.1:2222")
	viper.SetDefault("REQUEST_TIMEOUT", 4*time.Second)
	viper.SetDefault("RETRY_ATTEMPTS", 4)

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.LossProbability < 0 || cfg.LossProbability > 1 {
		return nil, fmt.Errorf("loss probability %v outside [0, 1]", cfg.LossProbability)
	}
	return &cfg, nil
}
