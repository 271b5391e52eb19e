// Package config contains the configuration surface of an agreement node.
// The engine loads, never computes, these values: participant membership,
// per-event timeouts, persisted keys and the ambient knobs.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/rounds"
)

// Config defines the top level configuration for an agreement node.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Rounds     rounds.RunnerConfig `mapstructure:"rounds"`
}

// BaseConfig defines the default configuration options.
type BaseConfig struct {
	// Participants is the fixed membership for a period, hex addresses.
	Participants []string `mapstructure:"participants"`

	// RoundTimeout elapses before the engine forces a timeout event.
	RoundTimeout time.Duration `mapstructure:"round-timeout"`

	LogLevel string `mapstructure:"log-level"`

	CollectMetrics bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: BaseConfig{
			RoundTimeout: 30 * time.Second,
			LogLevel:     "info",
			MetricsPort:  1010,
		},
		Rounds: rounds.DefaultRunnerConfig(),
	}
}

// Validate reports configuration mistakes before anything starts.
func (cfg *Config) Validate() error {
	if cfg.Rounds.Participants < 1 {
		return fmt.Errorf("participants must be at least 1, got %d", cfg.Rounds.Participants)
	}
	if cfg.RoundTimeout < 0 {
		return fmt.Errorf("round timeout must not be negative, got %v", cfg.RoundTimeout)
	}
	if cfg.Rounds.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", cfg.Rounds.TickInterval)
	}
	if len(cfg.Participants) > 0 && len(cfg.Participants) != cfg.Rounds.Participants {
		return fmt.Errorf("participant addresses (%d) do not match the declared set size (%d)",
			len(cfg.Participants), cfg.Rounds.Participants)
	}
	if _, err := cfg.ParticipantSet(); err != nil {
		return err
	}
	return nil
}

// ParticipantSet decodes the configured membership addresses.
func (cfg *Config) ParticipantSet() (types.Participants, error) {
	participants := make(types.Participants, 0, len(cfg.Participants))
	for _, addr := range cfg.Participants {
		var id types.NodeID
		if err := id.UnmarshalText([]byte(addr)); err != nil {
			return nil, fmt.Errorf("participant address: %w", err)
		}
		participants = append(participants, id)
	}
	return participants, nil
}

// LoadConfig loads config from a file into vip and unmarshals it over the
// defaults. An empty path keeps the defaults plus whatever flags and env
// were bound to vip by the caller.
func LoadConfig(path string, vip *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := vip.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
