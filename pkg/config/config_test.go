package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/chiral-network/chiral-node/pkg/reputation"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadSucceedsWithoutConfigFile(t *testing.T) {
	resetViper(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "identity.key", cfg.Identity.KeyPath)
	require.Equal(t, "data/chunks", cfg.ChunkStore.Root)
	require.Equal(t, int64(256*1024), cfg.ChunkStore.ChunkSize)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.DHT.ListenAddrs)
	require.False(t, cfg.DHT.AsBootstrap)
	require.Equal(t, ":8080", cfg.Market.HTTPAddr)
}

func TestLoadSeedsReputationDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 90.0, cfg.Reputation.DecayHalfLifeDays)
	require.Equal(t, 0.2, cfg.Reputation.BlacklistScoreThreshold)
	require.Equal(t, reputation.ModeHybrid, cfg.Reputation.BlacklistMode)
	require.NotZero(t, cfg.Reputation.CacheTTL)
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	resetViper(t)

	require.NoError(t, os.Setenv("CHIRAL_MARKET_HTTP_ADDR", ":9090"))
	t.Cleanup(func() { _ = os.Unsetenv("CHIRAL_MARKET_HTTP_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Market.HTTPAddr)
}

func TestLoadFromEnvDefaultsToEmptyEnvironment(t *testing.T) {
	resetViper(t)
	require.NoError(t, os.Unsetenv("CHIRAL_ENV"))

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "data/manifests", cfg.Manifests.Root)
}
