package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/logger"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/persistencetest"
)

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis connects with a key prefix unique to the test, skipping the
// test when no Redis server is reachable
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        15, // Use DB 15 for tests to avoid conflicts
		KeyPrefix: "test:" + uuid.NewString() + ":",
	}

	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	t.Cleanup(func() { cleanupRedis(cfg) })

	return rp
}

// cleanupRedis removes every key written under the test's prefix
func cleanupRedis(cfg *RedisConfig) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	rp, err := NewRedisPersistence(cfg, testLogger)
	if err != nil {
		return
	}
	defer func() { _ = rp.Close() }()

	ctx := context.Background()
	iter := rp.client.Scan(ctx, 0, cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rp.client.Del(ctx, iter.Val())
	}
}

func TestRedisPersistence(t *testing.T) {
	persistencetest.RunSuite(t, func(t *testing.T) persistence.ISnapshotPersistence {
		return requireRedis(t)
	})
}

func TestRedisPersistence_KeyPrefix(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	snapshot := persistencetest.NewSnapshot(1000)
	require.NoError(t, rp.SaveSnapshot(snapshot))

	exists, err := rp.client.Exists(context.Background(), rp.keyPrefix+keyPrefixSnapshot+snapshot.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestNewRedisPersistence_InvalidConfig(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	_, err := NewRedisPersistence(nil, testLogger)
	assert.Error(t, err)

	_, err = NewRedisPersistence(&RedisConfig{}, testLogger)
	assert.Error(t, err)
}
