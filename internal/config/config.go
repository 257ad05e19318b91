// Package config loads the operator-tunable options an instance of this
// service needs, from an optional YAML file and LIVECODING_-prefixed
// environment variables, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment selects the CORS policy: permissive in development,
// restricted to Config.AllowedOrigin in production.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config holds every option spec.md §6 enumerates plus the ambient
// settings a deployed binary needs. It is constructed once in
// cmd/livecoding/main.go and passed explicitly everywhere it's needed —
// never read from package-level state.
type Config struct {
	ListenAddress string `mapstructure:"listenAddress"`
	PersistDir    string `mapstructure:"persistDir"`

	HeartbitInterval time.Duration `mapstructure:"heartbitInterval"`
	DocumentLimit    int           `mapstructure:"documentLimit"`
	LogBytesThreshold int          `mapstructure:"logBytesThreshold"`
	LogOpsThreshold   int          `mapstructure:"logOpsThreshold"`
	RoomIdleTTL       time.Duration `mapstructure:"roomIdleTtl"`
	RoomMaxAge        time.Duration `mapstructure:"roomMaxAge"`

	RegistrySweepInterval time.Duration `mapstructure:"registrySweepInterval"`
	RoomsFlushInterval    time.Duration `mapstructure:"roomsFlushInterval"`
	BackpressureQueueSize int          `mapstructure:"backpressureQueueSize"`
	MaxSitesPerRoom       int          `mapstructure:"maxSitesPerRoom"`

	Greeting      string      `mapstructure:"greeting"`
	Environment   Environment `mapstructure:"environment"`
	AllowedOrigin string      `mapstructure:"allowedOrigin"`
}

// defaults returns the values used for every option that neither the
// config file nor the environment sets.
func defaults() *Config {
	return &Config{
		ListenAddress:         ":8080",
		PersistDir:            "./data",
		HeartbitInterval:      5 * time.Second,
		DocumentLimit:         100_000,
		LogBytesThreshold:     256 * 1024,
		LogOpsThreshold:       10_000,
		RoomIdleTTL:           time.Hour,
		RoomMaxAge:            7 * 24 * time.Hour,
		RegistrySweepInterval: 5 * time.Minute,
		RoomsFlushInterval:    10 * time.Second,
		BackpressureQueueSize: 256,
		MaxSitesPerRoom:       20,
		Greeting:              "",
		Environment:           Development,
		AllowedOrigin:         "*",
	}
}

// Load reads configPath (if non-empty; a file that cannot be read is an
// error) and environment variables on top of defaults. Environment
// variables are the LIVECODING_ prefix plus the upper-cased option name,
// e.g. LIVECODING_LISTENADDRESS.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("livecoding")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaultsOn(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

func setDefaultsOn(v *viper.Viper, cfg *Config) {
	v.SetDefault("listenAddress", cfg.ListenAddress)
	v.SetDefault("persistDir", cfg.PersistDir)
	v.SetDefault("heartbitInterval", cfg.HeartbitInterval)
	v.SetDefault("documentLimit", cfg.DocumentLimit)
	v.SetDefault("logBytesThreshold", cfg.LogBytesThreshold)
	v.SetDefault("logOpsThreshold", cfg.LogOpsThreshold)
	v.SetDefault("roomIdleTtl", cfg.RoomIdleTTL)
	v.SetDefault("roomMaxAge", cfg.RoomMaxAge)
	v.SetDefault("registrySweepInterval", cfg.RegistrySweepInterval)
	v.SetDefault("roomsFlushInterval", cfg.RoomsFlushInterval)
	v.SetDefault("backpressureQueueSize", cfg.BackpressureQueueSize)
	v.SetDefault("maxSitesPerRoom", cfg.MaxSitesPerRoom)
	v.SetDefault("greeting", cfg.Greeting)
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("allowedOrigin", cfg.AllowedOrigin)
}

// Settings projects the subset of Config clients need, for the bootstrap
// REST response.
func (c *Config) Settings() (heartbitSeconds, documentLimit int) {
	return int(c.HeartbitInterval.Seconds()), c.DocumentLimit
}
