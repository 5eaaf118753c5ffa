package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountBalance is a single holder entry of a snapshot. Address is the unique
// key of the entry inside a tree, Balance is the payload committed alongside it.
type AccountBalance struct {
	Address common.Address
	Balance *big.Int
}

// NewAccountBalance creates an AccountBalance, copying the balance so the caller
// can keep mutating its own big.Int
func NewAccountBalance(address common.Address, balance *big.Int) *AccountBalance {
	ab := &AccountBalance{Address: address}
	if balance != nil {
		ab.Balance = new(big.Int).Set(balance)
	}
	return ab
}

// Copy returns a deep copy of the account balance
func (ab *AccountBalance) Copy() *AccountBalance {
	if ab == nil {
		return nil
	}
	return NewAccountBalance(ab.Address, ab.Balance)
}

// Equal reports whether both entries carry the same address and balance
func (ab *AccountBalance) Equal(other *AccountBalance) bool {
	if ab == nil || other == nil {
		return ab == other
	}
	if ab.Address != other.Address {
		return false
	}
	if ab.Balance == nil || other.Balance == nil {
		return ab.Balance == other.Balance
	}
	return ab.Balance.Cmp(other.Balance) == 0
}

// SnapshotStatus tracks a snapshot through the processing queue
type SnapshotStatus string

const (
	SnapshotStatusPending SnapshotStatus = "PENDING"
	SnapshotStatusSuccess SnapshotStatus = "SUCCESS"
	SnapshotStatusFailed  SnapshotStatus = "FAILED"
)

// SnapshotFailureCause explains why a snapshot ended up FAILED
type SnapshotFailureCause string

const (
	SnapshotFailureCauseNone             SnapshotFailureCause = ""
	SnapshotFailureCauseLogResponseLimit SnapshotFailureCause = "LOG_RESPONSE_LIMIT"
	SnapshotFailureCauseOther            SnapshotFailureCause = "OTHER"
)

// Snapshot is a finalized (or pending) set of holder balances of one asset at
// one block, together with the Merkle root computed over it
type Snapshot struct {
	ID                     string
	Name                   string
	ChainID                uint64
	AssetAddress           common.Address
	BlockNumber            uint64
	IgnoredHolderAddresses []common.Address
	HashFunction           string

	Status       SnapshotStatus
	FailureCause SnapshotFailureCause

	// Populated once Status is SUCCESS
	RootHash         []byte
	Depth            int
	TotalAssetAmount *big.Int
	Balances         []*AccountBalance

	// DuplicateOf points at an earlier successful snapshot with the same root
	DuplicateOf string

	CreatedAt   int64 // unix seconds
	CompletedAt int64 // unix seconds, 0 while pending
}

// Copy returns a deep copy of the snapshot
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.IgnoredHolderAddresses = append([]common.Address(nil), s.IgnoredHolderAddresses...)
	cp.RootHash = append([]byte(nil), s.RootHash...)
	if s.TotalAssetAmount != nil {
		cp.TotalAssetAmount = new(big.Int).Set(s.TotalAssetAmount)
	}
	if s.Balances != nil {
		cp.Balances = make([]*AccountBalance, len(s.Balances))
		for i, b := range s.Balances {
			cp.Balances[i] = b.Copy()
		}
	}
	return &cp
}

// IsIgnored reports whether the holder is excluded from the snapshot
func (s *Snapshot) IsIgnored(holder common.Address) bool {
	for _, addr := range s.IgnoredHolderAddresses {
		if addr == holder {
			return true
		}
	}
	return false
}
