// Package persistencetest holds the behaviour every ISnapshotPersistence
// backend must share. Backend tests call RunSuite with their own factory.
package persistencetest

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) persistence.ISnapshotPersistence

// NewSnapshot returns a successful snapshot with a random ID and root
func NewSnapshot(createdAt int64) *types.Snapshot {
	id := uuid.New()
	return &types.Snapshot{
		ID:               id.String(),
		Name:             "snapshot-" + id.String()[:8],
		ChainID:          1,
		AssetAddress:     common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		BlockNumber:      100,
		HashFunction:     "KECCAK_256",
		Status:           types.SnapshotStatusSuccess,
		RootHash:         id[:],
		Depth:            1,
		TotalAssetAmount: big.NewInt(30),
		Balances: []*types.AccountBalance{
			types.NewAccountBalance(common.HexToAddress("0x1"), big.NewInt(10)),
			types.NewAccountBalance(common.HexToAddress("0x2"), big.NewInt(20)),
		},
		CreatedAt:   createdAt,
		CompletedAt: createdAt + 1,
	}
}

// RunSuite runs the shared backend behaviour tests
func RunSuite(t *testing.T, newBackend Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		snapshot := NewSnapshot(1000)
		require.NoError(t, p.SaveSnapshot(snapshot))

		loaded, err := p.LoadSnapshot(snapshot.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assertSnapshotsEqual(t, snapshot, loaded)
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		loaded, err := p.LoadSnapshot(uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveNil", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		assert.Error(t, p.SaveSnapshot(nil))
		assert.Error(t, p.SaveSnapshot(&types.Snapshot{}))
	})

	t.Run("Overwrite", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		snapshot := NewSnapshot(1000)
		snapshot.Status = types.SnapshotStatusPending
		snapshot.RootHash = nil
		require.NoError(t, p.SaveSnapshot(snapshot))

		snapshot.Status = types.SnapshotStatusFailed
		snapshot.FailureCause = types.SnapshotFailureCauseLogResponseLimit
		require.NoError(t, p.SaveSnapshot(snapshot))

		loaded, err := p.LoadSnapshot(snapshot.ID)
		require.NoError(t, err)
		assert.Equal(t, types.SnapshotStatusFailed, loaded.Status)
		assert.Equal(t, types.SnapshotFailureCauseLogResponseLimit, loaded.FailureCause)
	})

	t.Run("ListOrdered", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		empty, err := p.ListSnapshots()
		require.NoError(t, err)
		assert.Empty(t, empty)

		third := NewSnapshot(3000)
		first := NewSnapshot(1000)
		second := NewSnapshot(2000)
		for _, s := range []*types.Snapshot{third, first, second} {
			require.NoError(t, p.SaveSnapshot(s))
		}

		list, err := p.ListSnapshots()
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
		assert.Equal(t, third.ID, list[2].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		snapshot := NewSnapshot(1000)
		require.NoError(t, p.SaveSnapshot(snapshot))
		require.NoError(t, p.DeleteSnapshot(snapshot.ID))

		loaded, err := p.LoadSnapshot(snapshot.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		found, err := p.FindByRoot(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
		require.NoError(t, err)
		assert.Nil(t, found)

		// idempotent
		require.NoError(t, p.DeleteSnapshot(snapshot.ID))
	})

	t.Run("FindByRoot", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		original := NewSnapshot(1000)
		require.NoError(t, p.SaveSnapshot(original))

		duplicate := NewSnapshot(2000)
		duplicate.RootHash = original.RootHash
		duplicate.DuplicateOf = original.ID
		require.NoError(t, p.SaveSnapshot(duplicate))

		found, err := p.FindByRoot(original.ChainID, original.AssetAddress, original.RootHash)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, original.ID, found.ID)

		// a second non-duplicate with the same root does not steal the slot
		late := NewSnapshot(3000)
		late.RootHash = original.RootHash
		require.NoError(t, p.SaveSnapshot(late))
		found, err = p.FindByRoot(original.ChainID, original.AssetAddress, original.RootHash)
		require.NoError(t, err)
		assert.Equal(t, original.ID, found.ID)

		found, err = p.FindByRoot(original.ChainID+1, original.AssetAddress, original.RootHash)
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = p.FindByRoot(original.ChainID, common.HexToAddress("0xabc"), original.RootHash)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("FindByRootIgnoresPending", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		pending := NewSnapshot(1000)
		pending.Status = types.SnapshotStatusPending
		require.NoError(t, p.SaveSnapshot(pending))

		found, err := p.FindByRoot(pending.ChainID, pending.AssetAddress, pending.RootHash)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("MutationIsolation", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		snapshot := NewSnapshot(1000)
		require.NoError(t, p.SaveSnapshot(snapshot))

		snapshot.Balances[0].Balance.SetInt64(999)
		snapshot.Name = "mutated"

		loaded, err := p.LoadSnapshot(snapshot.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", loaded.Name)
		assert.Equal(t, int64(10), loaded.Balances[0].Balance.Int64())

		loaded.Balances[1].Balance.SetInt64(0)
		again, err := p.LoadSnapshot(snapshot.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(20), again.Balances[1].Balance.Int64())
	})

	t.Run("Close", func(t *testing.T) {
		p := newBackend(t)
		require.NoError(t, p.HealthCheck())
		require.NoError(t, p.Close())

		assert.Error(t, p.HealthCheck())
		assert.Error(t, p.SaveSnapshot(NewSnapshot(1)))
		_, err := p.LoadSnapshot("x")
		assert.Error(t, err)
		_, err = p.ListSnapshots()
		assert.Error(t, err)

		// idempotent
		assert.NoError(t, p.Close())
	})

	t.Run("Concurrency", func(t *testing.T) {
		p := newBackend(t)
		defer func() { _ = p.Close() }()

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers*2)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				snapshot := NewSnapshot(int64(i))
				if err := p.SaveSnapshot(snapshot); err != nil {
					errs <- err
					return
				}
				loaded, err := p.LoadSnapshot(snapshot.ID)
				if err != nil {
					errs <- err
					return
				}
				if loaded == nil {
					errs <- fmt.Errorf("snapshot %s not found after save", snapshot.ID)
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		list, err := p.ListSnapshots()
		require.NoError(t, err)
		assert.Len(t, list, workers)
	})
}

func assertSnapshotsEqual(t *testing.T, expected, actual *types.Snapshot) {
	t.Helper()

	assert.Equal(t, expected.ID, actual.ID)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.ChainID, actual.ChainID)
	assert.Equal(t, expected.AssetAddress, actual.AssetAddress)
	assert.Equal(t, expected.BlockNumber, actual.BlockNumber)
	assert.Equal(t, expected.HashFunction, actual.HashFunction)
	assert.Equal(t, expected.Status, actual.Status)
	assert.Equal(t, expected.RootHash, actual.RootHash)
	assert.Equal(t, expected.Depth, actual.Depth)
	assert.Equal(t, 0, expected.TotalAssetAmount.Cmp(actual.TotalAssetAmount))
	assert.Equal(t, expected.CreatedAt, actual.CreatedAt)
	assert.Equal(t, expected.CompletedAt, actual.CompletedAt)

	require.Len(t, actual.Balances, len(expected.Balances))
	for i := range expected.Balances {
		assert.True(t, expected.Balances[i].Equal(actual.Balances[i]), "balance %d", i)
	}
}
