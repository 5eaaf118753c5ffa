package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
)

func validConfig() *SnapshotServerConfig {
	return &SnapshotServerConfig{
		Port:            DefaultPort,
		ChainID:         ChainId_EthereumSepolia,
		RpcUrl:          "https://rpc.sepolia.org",
		PersistenceType: persistence.PersistenceTypeMemory,
		HashFunction:    DefaultHashFunction.String(),
		PollInterval:    DefaultPollInterval,
	}
}

func TestSnapshotServerConfig_Validate(t *testing.T) {
	t.Run("Valid config fills derived fields", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, ChainName_EthereumSepolia, cfg.ChainName)
		assert.Equal(t, uint64(LogBlockSpan_Sepolia), cfg.LogBlockSpan)
	})

	t.Run("Explicit log block span is kept", func(t *testing.T) {
		cfg := validConfig()
		cfg.LogBlockSpan = 500
		require.NoError(t, cfg.Validate())
		assert.Equal(t, uint64(500), cfg.LogBlockSpan)
	})

	t.Run("No RPC URL is allowed", func(t *testing.T) {
		cfg := validConfig()
		cfg.RpcUrl = ""
		assert.NoError(t, cfg.Validate())
	})

	testCases := []struct {
		name   string
		mutate func(c *SnapshotServerConfig)
		field  string
	}{
		{"Port too low", func(c *SnapshotServerConfig) { c.Port = 0 }, "port"},
		{"Port too high", func(c *SnapshotServerConfig) { c.Port = 70000 }, "port"},
		{"Unsupported chain", func(c *SnapshotServerConfig) { c.ChainID = 5 }, "chain_id"},
		{"Bad RPC URL", func(c *SnapshotServerConfig) { c.RpcUrl = "localhost:8545" }, "rpc_url"},
		{"Unknown persistence", func(c *SnapshotServerConfig) { c.PersistenceType = "postgres" }, "persistence_type"},
		{"Badger without path", func(c *SnapshotServerConfig) { c.PersistenceType = persistence.PersistenceTypeBadger }, "data_path"},
		{"Redis without address", func(c *SnapshotServerConfig) { c.PersistenceType = persistence.PersistenceTypeRedis }, "redis_address"},
		{"Unknown hash function", func(c *SnapshotServerConfig) { c.HashFunction = "MD5" }, "hash_function"},
		{"Zero poll interval", func(c *SnapshotServerConfig) { c.PollInterval = 0 }, "poll_interval"},
		{"Negative read rps", func(c *SnapshotServerConfig) { c.ReadRPS = -1 }, "read_rps"},
		{"Negative write rps", func(c *SnapshotServerConfig) { c.WriteRPS = -1 }, "write_rps"},
		{"Negative cache size", func(c *SnapshotServerConfig) { c.TreeCacheSize = -1 }, "tree_cache_size"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}

	t.Run("Errors are aggregated", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		cfg.ChainID = 5
		cfg.PollInterval = -time.Second
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
		assert.Contains(t, err.Error(), "chain_id")
		assert.Contains(t, err.Error(), "poll_interval")
	})
}

func TestGetLogBlockSpanForChain(t *testing.T) {
	assert.Equal(t, uint64(LogBlockSpan_Mainnet), GetLogBlockSpanForChain(ChainId_EthereumMainnet))
	assert.Equal(t, uint64(LogBlockSpan_Anvil), GetLogBlockSpanForChain(ChainId_EthereumAnvil))
	assert.Equal(t, uint64(LogBlockSpan_Mainnet), GetLogBlockSpanForChain(42))
}

func TestChainTables(t *testing.T) {
	for _, id := range GetSupportedChainIDs() {
		name, ok := ChainIdToName[id]
		require.True(t, ok)
		assert.Equal(t, id, ChainNameToId[name])
	}
	assert.Contains(t, GetSupportedChainIDsString(), "11155111")
}
