package config

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
)

// Environment variable names for snapshot server configuration
const (
	EnvSnapshotPort            = "SNAPSHOT_PORT"
	EnvSnapshotChainID         = "SNAPSHOT_CHAIN_ID"
	EnvSnapshotRPCURL          = "SNAPSHOT_RPC_URL"
	EnvSnapshotPersistenceType = "SNAPSHOT_PERSISTENCE_TYPE"
	EnvSnapshotDataPath        = "SNAPSHOT_DATA_PATH"
	EnvSnapshotRedisAddress    = "SNAPSHOT_REDIS_ADDRESS"
	EnvSnapshotRedisPassword   = "SNAPSHOT_REDIS_PASSWORD"
	EnvSnapshotRedisDB         = "SNAPSHOT_REDIS_DB"
	EnvSnapshotHashFunction    = "SNAPSHOT_HASH_FUNCTION"
	EnvSnapshotPollInterval    = "SNAPSHOT_POLL_INTERVAL"
	EnvSnapshotStartBlock      = "SNAPSHOT_START_BLOCK"
	EnvSnapshotLogBlockSpan    = "SNAPSHOT_LOG_BLOCK_SPAN"
	EnvSnapshotTreeCacheSize   = "SNAPSHOT_TREE_CACHE_SIZE"
	EnvSnapshotReadRPS         = "SNAPSHOT_READ_RPS"
	EnvSnapshotWriteRPS        = "SNAPSHOT_WRITE_RPS"
	EnvSnapshotVerbose         = "SNAPSHOT_VERBOSE"
)

// Environment variable names for the snapshot client
const (
	EnvSnapshotServerURL = "SNAPSHOT_SERVER_URL"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// eth_getLogs block spans by chain. Public mainnet providers cap log responses
// much earlier than a local anvil node does.
const (
	LogBlockSpan_Mainnet = 2_000
	LogBlockSpan_Sepolia = 10_000
	LogBlockSpan_Anvil   = 100_000
)

// GetLogBlockSpanForChain returns the default eth_getLogs block span for a chain
func GetLogBlockSpanForChain(chainId ChainId) uint64 {
	switch chainId {
	case ChainId_EthereumMainnet:
		return LogBlockSpan_Mainnet
	case ChainId_EthereumSepolia:
		return LogBlockSpan_Sepolia
	case ChainId_EthereumAnvil:
		return LogBlockSpan_Anvil
	default:
		return LogBlockSpan_Mainnet
	}
}

const (
	DefaultPort          = 8080
	DefaultPollInterval  = 10 * time.Second
	DefaultHashFunction  = merkle.HashFunctionKeccak256
	DefaultTreeCacheSize = 64
)

// SnapshotServerConfig represents the complete configuration for a snapshot server
type SnapshotServerConfig struct {
	Port int `json:"port"`

	// Chain configuration
	ChainID   ChainId   `json:"chain_id"`
	ChainName ChainName `json:"chain_name"`
	RpcUrl    string    `json:"rpc_url"` // empty disables chain snapshots

	// Persistence
	PersistenceType persistence.PersistenceType `json:"persistence_type"`
	DataPath        string                      `json:"data_path"`
	RedisAddress    string                      `json:"redis_address"`
	RedisPassword   string                      `json:"-"`
	RedisDB         int                         `json:"redis_db"`

	// Snapshot processing
	HashFunction  string        `json:"hash_function"`
	PollInterval  time.Duration `json:"poll_interval"`
	StartBlock    uint64        `json:"start_block"`    // first block scanned for Transfer logs
	LogBlockSpan  uint64        `json:"log_block_span"` // 0 picks the chain default
	TreeCacheSize int           `json:"tree_cache_size"`

	// API rate limits, requests per second. Zero disables the limit.
	ReadRPS  float64 `json:"read_rps"`
	WriteRPS float64 `json:"write_rps"`

	// Operational settings
	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the snapshot server configuration and fills in the
// derived fields (chain name and default log block span)
func (c *SnapshotServerConfig) Validate() error {
	var allErrs field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		allErrs = append(allErrs, field.Invalid(field.NewPath("chain_id"), c.ChainID, "supported: "+GetSupportedChainIDsString()))
	}

	if c.RpcUrl != "" && !strings.HasPrefix(c.RpcUrl, "http://") && !strings.HasPrefix(c.RpcUrl, "https://") &&
		!strings.HasPrefix(c.RpcUrl, "ws://") && !strings.HasPrefix(c.RpcUrl, "wss://") {
		allErrs = append(allErrs, field.Invalid(field.NewPath("rpc_url"), c.RpcUrl, "must be an http(s) or ws(s) URL"))
	}

	switch c.PersistenceType {
	case persistence.PersistenceTypeMemory:
	case persistence.PersistenceTypeBadger:
		if c.DataPath == "" {
			allErrs = append(allErrs, field.Required(field.NewPath("data_path"), "data path is required for badger persistence"))
		}
	case persistence.PersistenceTypeRedis:
		if c.RedisAddress == "" {
			allErrs = append(allErrs, field.Required(field.NewPath("redis_address"), "redis address is required for redis persistence"))
		}
		if c.RedisDB < 0 {
			allErrs = append(allErrs, field.Invalid(field.NewPath("redis_db"), c.RedisDB, "must not be negative"))
		}
	default:
		allErrs = append(allErrs, field.NotSupported(field.NewPath("persistence_type"), c.PersistenceType, []string{
			string(persistence.PersistenceTypeMemory),
			string(persistence.PersistenceTypeBadger),
			string(persistence.PersistenceTypeRedis),
		}))
	}

	if _, err := merkle.HashFunctionFromName(c.HashFunction); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("hash_function"), c.HashFunction, err.Error()))
	}

	if c.PollInterval <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("poll_interval"), c.PollInterval.String(), "must be positive"))
	}
	if c.TreeCacheSize < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("tree_cache_size"), c.TreeCacheSize, "must not be negative"))
	}
	if c.ReadRPS < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("read_rps"), c.ReadRPS, "must not be negative"))
	}
	if c.WriteRPS < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("write_rps"), c.WriteRPS, "must not be negative"))
	}

	if len(allErrs) > 0 {
		return allErrs.ToAggregate()
	}

	c.ChainName = chainName
	if c.LogBlockSpan == 0 {
		c.LogBlockSpan = GetLogBlockSpanForChain(c.ChainID)
	}
	return nil
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}
