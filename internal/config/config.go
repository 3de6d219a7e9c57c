// Package config loads SolDocs settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the optional settings.
const (
	DefaultPort              = 3000
	DefaultDiscoveryInterval = 5 * time.Minute
	DefaultConcurrency       = 1
	DefaultDataDir           = "./data"
)

// ErrMissingRequired is wrapped by Load when a required variable is
// absent.
var ErrMissingRequired = errors.New("missing required configuration")

// Config is the resolved runtime configuration.
type Config struct {
	SolanaRPCURL      string
	AnthropicAPIKey   string
	AnthropicModel    string
	APIPort           int
	DiscoveryInterval time.Duration
	Concurrency       int
	WebhookURL        string
	DataDir           string
	IDLWatchDir       string
	LogJSON           bool
}

// Load reads configuration from the environment. Unparseable optional
// numerics fall back to their defaults; viper's GetInt already yields
// the zero value for junk, which the clamps below convert to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("API_PORT", DefaultPort)
	v.SetDefault("AGENT_DISCOVERY_INTERVAL_MS", int(DefaultDiscoveryInterval/time.Millisecond))
	v.SetDefault("AGENT_CONCURRENCY", DefaultConcurrency)
	v.SetDefault("DATA_DIR", DefaultDataDir)

	cfg := &Config{
		SolanaRPCURL:    v.GetString("SOLANA_RPC_URL"),
		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		AnthropicModel:  v.GetString("ANTHROPIC_MODEL"),
		WebhookURL:      v.GetString("WEBHOOK_URL"),
		DataDir:         v.GetString("DATA_DIR"),
		IDLWatchDir:     v.GetString("IDL_WATCH_DIR"),
		LogJSON:         v.GetBool("LOG_JSON"),
	}

	if cfg.SolanaRPCURL == "" {
		return nil, fmt.Errorf("%w: SOLANA_RPC_URL", ErrMissingRequired)
	}
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY", ErrMissingRequired)
	}

	cfg.APIPort = v.GetInt("API_PORT")
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		cfg.APIPort = DefaultPort
	}

	intervalMS := v.GetInt("AGENT_DISCOVERY_INTERVAL_MS")
	if intervalMS <= 0 {
		intervalMS = int(DefaultDiscoveryInterval / time.Millisecond)
	}
	cfg.DiscoveryInterval = time.Duration(intervalMS) * time.Millisecond

	cfg.Concurrency = v.GetInt("AGENT_CONCURRENCY")
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	return cfg, nil
}
