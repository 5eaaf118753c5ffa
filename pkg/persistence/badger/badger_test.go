package badger

import (
	"testing"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/logger"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/persistencetest"
)

func TestBadgerPersistence(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	persistencetest.RunSuite(t, func(t *testing.T) persistence.ISnapshotPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_Reopen(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	snapshot := persistencetest.NewSnapshot(1000)
	require.NoError(t, bp.SaveSnapshot(snapshot))
	require.NoError(t, bp.Close())

	bp, err = NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadSnapshot(snapshot.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snapshot.RootHash, loaded.RootHash)

	found, err := bp.FindByRoot(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snapshot.ID, found.ID)
}

func TestBadgerPersistence_SchemaVersionMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	err = bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, bp.Close())

	_, err = NewBadgerPersistence(tmpDir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}
