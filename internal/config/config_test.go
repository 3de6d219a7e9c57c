package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.APIPort)
	assert.Equal(t, DefaultDiscoveryInterval, cfg.DiscoveryInterval)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Empty(t, cfg.WebhookURL)
}

func TestLoadRequiredMissing(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingRequired)

	t.Setenv("SOLANA_RPC_URL", "https://rpc")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err = Load()
	assert.ErrorIs(t, err, ErrMissingRequired)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("API_PORT", "8080")
	t.Setenv("AGENT_DISCOVERY_INTERVAL_MS", "1000")
	t.Setenv("AGENT_CONCURRENCY", "4")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/soldocs")
	t.Setenv("DATA_DIR", "/var/lib/soldocs")
	t.Setenv("IDL_WATCH_DIR", "/var/lib/soldocs/dropbox")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, time.Second, cfg.DiscoveryInterval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "https://hooks.example.com/soldocs", cfg.WebhookURL)
	assert.Equal(t, "/var/lib/soldocs", cfg.DataDir)
	assert.Equal(t, "/var/lib/soldocs/dropbox", cfg.IDLWatchDir)
}

func TestLoadJunkNumericsFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("API_PORT", "banana")
	t.Setenv("AGENT_DISCOVERY_INTERVAL_MS", "NaN")
	t.Setenv("AGENT_CONCURRENCY", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.APIPort)
	assert.Equal(t, DefaultDiscoveryInterval, cfg.DiscoveryInterval)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
}

func TestLoadPortOutOfRange(t *testing.T) {
	setRequired(t)
	t.Setenv("API_PORT", "99999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.APIPort)
}
