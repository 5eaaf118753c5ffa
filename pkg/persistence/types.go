package persistence

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

// PersistenceType selects a storage backend
type PersistenceType string

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("persistence layer is closed")

// SnapshotRecord is the stored form of a snapshot. Addresses and amounts are
// kept as strings so the encoding does not depend on go-ethereum or math/big
// internals.
type SnapshotRecord struct {
	ID                     string          `cbor:"id"`
	Name                   string          `cbor:"name"`
	ChainID                uint64          `cbor:"chain_id"`
	AssetAddress           string          `cbor:"asset_address"`
	BlockNumber            uint64          `cbor:"block_number"`
	IgnoredHolderAddresses []string        `cbor:"ignored_holder_addresses"`
	HashFunction           string          `cbor:"hash_function"`
	Status                 string          `cbor:"status"`
	FailureCause           string          `cbor:"failure_cause"`
	RootHash               []byte          `cbor:"root_hash"`
	Depth                  int             `cbor:"depth"`
	TotalAssetAmount       string          `cbor:"total_asset_amount"`
	Balances               []BalanceRecord `cbor:"balances"`
	DuplicateOf            string          `cbor:"duplicate_of"`
	CreatedAt              int64           `cbor:"created_at"`
	CompletedAt            int64           `cbor:"completed_at"`
}

// BalanceRecord is the stored form of one account balance
type BalanceRecord struct {
	Address string `cbor:"address"`
	Balance string `cbor:"balance"`
}

// NewSnapshotRecord converts a snapshot into its stored form
func NewSnapshotRecord(s *types.Snapshot) *SnapshotRecord {
	record := &SnapshotRecord{
		ID:           s.ID,
		Name:         s.Name,
		ChainID:      s.ChainID,
		AssetAddress: s.AssetAddress.Hex(),
		BlockNumber:  s.BlockNumber,
		HashFunction: s.HashFunction,
		Status:       string(s.Status),
		FailureCause: string(s.FailureCause),
		RootHash:     append([]byte(nil), s.RootHash...),
		Depth:        s.Depth,
		DuplicateOf:  s.DuplicateOf,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
	}

	for _, addr := range s.IgnoredHolderAddresses {
		record.IgnoredHolderAddresses = append(record.IgnoredHolderAddresses, addr.Hex())
	}
	if s.TotalAssetAmount != nil {
		record.TotalAssetAmount = s.TotalAssetAmount.String()
	}
	for _, b := range s.Balances {
		record.Balances = append(record.Balances, BalanceRecord{
			Address: b.Address.Hex(),
			Balance: b.Balance.String(),
		})
	}

	return record
}

// Snapshot converts the stored form back into a snapshot
func (r *SnapshotRecord) Snapshot() (*types.Snapshot, error) {
	asset, err := util.ParseAddress(r.AssetAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}

	s := &types.Snapshot{
		ID:           r.ID,
		Name:         r.Name,
		ChainID:      r.ChainID,
		AssetAddress: asset,
		BlockNumber:  r.BlockNumber,
		HashFunction: r.HashFunction,
		Status:       types.SnapshotStatus(r.Status),
		FailureCause: types.SnapshotFailureCause(r.FailureCause),
		RootHash:     r.RootHash,
		Depth:        r.Depth,
		DuplicateOf:  r.DuplicateOf,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}

	if len(r.IgnoredHolderAddresses) > 0 {
		ignored, err := util.ParseAddresses(r.IgnoredHolderAddresses)
		if err != nil {
			return nil, fmt.Errorf("invalid ignored holder address: %w", err)
		}
		s.IgnoredHolderAddresses = ignored
	}

	if r.TotalAssetAmount != "" {
		total, ok := new(big.Int).SetString(r.TotalAssetAmount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid total asset amount %q", r.TotalAssetAmount)
		}
		s.TotalAssetAmount = total
	}

	if len(r.Balances) > 0 {
		s.Balances = make([]*types.AccountBalance, len(r.Balances))
		for i, b := range r.Balances {
			address, err := util.ParseAddress(b.Address)
			if err != nil {
				return nil, fmt.Errorf("invalid balance address at %d: %w", i, err)
			}
			balance, err := util.ParseBalance(b.Balance)
			if err != nil {
				return nil, fmt.Errorf("invalid balance at %d: %w", i, err)
			}
			s.Balances[i] = &types.AccountBalance{Address: address, Balance: balance}
		}
	}

	return s, nil
}

// IsRootIndexed reports whether a snapshot owns a FindByRoot slot
func IsRootIndexed(s *types.Snapshot) bool {
	return s.Status == types.SnapshotStatusSuccess && s.DuplicateOf == "" && len(s.RootHash) > 0
}

// RootIndexKey is the key under which backends index snapshots by root
func RootIndexKey(chainID uint64, asset common.Address, rootHash []byte) string {
	return fmt.Sprintf("%d:%s:%x", chainID, strings.ToLower(asset.Hex()), rootHash)
}

// SortSnapshots orders snapshots by creation time, then ID
func SortSnapshots(snapshots []*types.Snapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt != snapshots[j].CreatedAt {
			return snapshots[i].CreatedAt < snapshots[j].CreatedAt
		}
		return snapshots[i].ID < snapshots[j].ID
	})
}
