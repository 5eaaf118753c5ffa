package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixSnapshot    = "payout:snapshot:"
	keyPrefixRoot        = "payout:root:"
	keySchemaVersion     = "payout:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetSnapshots = "payout:snapshots:index"

	operationTimeout = 5 * time.Second
)

// RedisPersistence stores snapshots in Redis, for deployments where several
// server replicas share one snapshot store
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.ISnapshotPersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "staging:" yields keys like
	// "staging:payout:snapshot:<id>"
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisPersistence) snapshotKey(id string) string {
	return r.prefixKey(keyPrefixSnapshot + id)
}

func (r *RedisPersistence) rootKey(chainID uint64, asset common.Address, rootHash []byte) string {
	return r.prefixKey(keyPrefixRoot + persistence.RootIndexKey(chainID, asset, rootHash))
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveSnapshot persists a snapshot. The record, the listing index and the
// root index claim are written in one MULTI/EXEC transaction.
func (r *RedisPersistence) SaveSnapshot(snapshot *types.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil Snapshot")
	}
	if snapshot.ID == "" {
		return fmt.Errorf("cannot save Snapshot without ID")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal Snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.snapshotKey(snapshot.ID), data, 0)
		pipe.SAdd(ctx, r.prefixKey(keySetSnapshots), snapshot.ID)
		if persistence.IsRootIndexed(snapshot) {
			pipe.SetNX(ctx, r.rootKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash), snapshot.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save Snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot retrieves a snapshot by ID
func (r *RedisPersistence) LoadSnapshot(id string) (*types.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	return r.load(ctx, id)
}

func (r *RedisPersistence) load(ctx context.Context, id string) (*types.Snapshot, error) {
	data, err := r.client.Get(ctx, r.snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load Snapshot: %w", err)
	}

	snapshot, err := persistence.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Snapshot: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots returns all snapshots ordered by creation time
func (r *RedisPersistence) ListSnapshots() ([]*types.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.prefixKey(keySetSnapshots)
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list Snapshot ids: %w", err)
	}

	snapshots := make([]*types.Snapshot, 0, len(ids))
	if len(ids) == 0 {
		return snapshots, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.snapshotKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Snapshots: %w", err)
	}

	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for Snapshot", "key", keys[i])
			continue
		}

		snapshot, err := persistence.UnmarshalSnapshot([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal Snapshot, skipping",
				"key", keys[i], "error", err)
			continue
		}

		snapshots = append(snapshots, snapshot)
	}

	persistence.SortSnapshots(snapshots)

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot and releases its root index entry
func (r *RedisPersistence) DeleteSnapshot(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	snapshot, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return r.client.SRem(ctx, r.prefixKey(keySetSnapshots), id).Err()
	}

	rootKey := r.rootKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
	owner, err := r.client.Get(ctx, rootKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read root index: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.snapshotKey(id))
		pipe.SRem(ctx, r.prefixKey(keySetSnapshots), id)
		if owner == id {
			pipe.Del(ctx, rootKey)
		}
		return nil
	})
	return err
}

// FindByRoot returns the snapshot indexed under the (chain, asset, root) triple
func (r *RedisPersistence) FindByRoot(chainID uint64, asset common.Address, rootHash []byte) (*types.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	id, err := r.client.Get(ctx, r.rootKey(chainID, asset, rootHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read root index: %w", err)
	}

	return r.load(ctx, id)
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis and checks that the schema version is present
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
