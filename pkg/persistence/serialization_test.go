package persistence

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

func sampleSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:                     "0f8fad5b-d9cb-469f-a165-70867728950e",
		Name:                   "holders",
		ChainID:                11155111,
		AssetAddress:           common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		BlockNumber:            5_000_000,
		IgnoredHolderAddresses: []common.Address{common.HexToAddress("0xdead")},
		HashFunction:           "KECCAK_256",
		Status:                 types.SnapshotStatusSuccess,
		RootHash:               []byte{0x01, 0x02, 0x03},
		Depth:                  1,
		TotalAssetAmount:       big.NewInt(300),
		Balances: []*types.AccountBalance{
			types.NewAccountBalance(common.HexToAddress("0x1"), big.NewInt(100)),
			types.NewAccountBalance(common.HexToAddress("0x2"), big.NewInt(200)),
		},
		CreatedAt:   1700000000,
		CompletedAt: 1700000060,
	}
}

// TestMarshalUnmarshalSnapshot_RoundTrip tests CBOR marshaling/unmarshaling
func TestMarshalUnmarshalSnapshot_RoundTrip(t *testing.T) {
	original := sampleSnapshot()

	data, err := MarshalSnapshot(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	require.NotNil(t, restored)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Name, restored.Name)
	assert.Equal(t, original.ChainID, restored.ChainID)
	assert.Equal(t, original.AssetAddress, restored.AssetAddress)
	assert.Equal(t, original.BlockNumber, restored.BlockNumber)
	assert.Equal(t, original.IgnoredHolderAddresses, restored.IgnoredHolderAddresses)
	assert.Equal(t, original.HashFunction, restored.HashFunction)
	assert.Equal(t, original.Status, restored.Status)
	assert.Equal(t, original.RootHash, restored.RootHash)
	assert.Equal(t, original.Depth, restored.Depth)
	assert.Equal(t, 0, original.TotalAssetAmount.Cmp(restored.TotalAssetAmount))
	assert.Equal(t, original.CreatedAt, restored.CreatedAt)
	assert.Equal(t, original.CompletedAt, restored.CompletedAt)

	require.Len(t, restored.Balances, len(original.Balances))
	for i := range original.Balances {
		assert.True(t, original.Balances[i].Equal(restored.Balances[i]))
	}
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	a, err := MarshalSnapshot(sampleSnapshot())
	require.NoError(t, err)
	b, err := MarshalSnapshot(sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalUnmarshalSnapshot_Pending(t *testing.T) {
	original := &types.Snapshot{
		ID:           "pending",
		AssetAddress: common.HexToAddress("0xabc"),
		HashFunction: "KECCAK_256",
		Status:       types.SnapshotStatusPending,
		CreatedAt:    1,
	}

	data, err := MarshalSnapshot(original)
	require.NoError(t, err)

	restored, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, types.SnapshotStatusPending, restored.Status)
	assert.Nil(t, restored.TotalAssetAmount)
	assert.Empty(t, restored.Balances)
	assert.Empty(t, restored.RootHash)
}

func TestMarshalSnapshot_Nil(t *testing.T) {
	_, err := MarshalSnapshot(nil)
	assert.Error(t, err)
}

func TestUnmarshalSnapshot_InvalidData(t *testing.T) {
	_, err := UnmarshalSnapshot(nil)
	assert.Error(t, err)

	_, err = UnmarshalSnapshot([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestUnmarshalSnapshot_InvalidRecord(t *testing.T) {
	data, err := encMode.Marshal(&SnapshotRecord{ID: "bad", AssetAddress: "not-an-address"})
	require.NoError(t, err)

	_, err = UnmarshalSnapshot(data)
	assert.Error(t, err)
}

func TestRootIndexKey(t *testing.T) {
	asset := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	key := RootIndexKey(1, asset, []byte{0xab, 0xcd})
	assert.Equal(t, "1:0x1c7d4b196cb0c7b01d743fbc6116a902379c7238:abcd", key)
}

func TestIsRootIndexed(t *testing.T) {
	s := sampleSnapshot()
	assert.True(t, IsRootIndexed(s))

	s.DuplicateOf = "other"
	assert.False(t, IsRootIndexed(s))

	s = sampleSnapshot()
	s.Status = types.SnapshotStatusPending
	assert.False(t, IsRootIndexed(s))
}

func TestSortSnapshots(t *testing.T) {
	snapshots := []*types.Snapshot{
		{ID: "c", CreatedAt: 2},
		{ID: "b", CreatedAt: 1},
		{ID: "a", CreatedAt: 2},
	}
	SortSnapshots(snapshots)
	assert.Equal(t, "b", snapshots[0].ID)
	assert.Equal(t, "a", snapshots[1].ID)
	assert.Equal(t, "c", snapshots[2].ID)
}
