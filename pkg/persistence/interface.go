package persistence

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// ISnapshotPersistence stores snapshots across restarts.
// All implementations must be thread-safe: the HTTP server and the pending
// snapshot processor use the same instance concurrently.
type ISnapshotPersistence interface {
	// SaveSnapshot persists a snapshot keyed by its ID, overwriting any previous
	// record with the same ID. A SUCCESS snapshot that is not itself a duplicate
	// also becomes the target of FindByRoot for its (chain, asset, root) triple,
	// unless an earlier snapshot already holds that slot.
	SaveSnapshot(snapshot *types.Snapshot) error

	// LoadSnapshot retrieves a snapshot by ID.
	// Returns nil if the snapshot doesn't exist, error only on storage failure.
	LoadSnapshot(id string) (*types.Snapshot, error)

	// ListSnapshots returns all snapshots ordered by creation time, then ID.
	// Returns empty slice if none exist, error only on storage failure.
	ListSnapshots() ([]*types.Snapshot, error)

	// DeleteSnapshot removes a snapshot and its root index entry.
	// Idempotent - returns nil if the snapshot doesn't exist.
	DeleteSnapshot(id string) error

	// FindByRoot returns the first successful snapshot of the asset on the chain
	// whose tree has the given root, or nil if there is none.
	FindByRoot(chainID uint64, asset common.Address, rootHash []byte) (*types.Snapshot, error)

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
