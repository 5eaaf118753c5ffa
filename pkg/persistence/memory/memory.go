package memory

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of ISnapshotPersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Snapshots are deep copied on the way in and out.
type MemoryPersistence struct {
	mu sync.RWMutex

	// id -> snapshot
	snapshots map[string]*types.Snapshot

	// persistence.RootIndexKey -> id
	roots map[string]string

	closed bool
}

var _ persistence.ISnapshotPersistence = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory persistence layer.
// Logs a loud warning since this should only be used for testing.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	logger.Sugar().Warnw("Using in-memory persistence - ALL SNAPSHOTS WILL BE LOST ON RESTART",
		"hint", "set SNAPSHOT_PERSISTENCE_TYPE=badger for production",
	)

	return &MemoryPersistence{
		snapshots: make(map[string]*types.Snapshot),
		roots:     make(map[string]string),
	}
}

// SaveSnapshot persists a snapshot
func (m *MemoryPersistence) SaveSnapshot(snapshot *types.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil Snapshot")
	}
	if snapshot.ID == "" {
		return fmt.Errorf("cannot save Snapshot without ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.snapshots[snapshot.ID] = snapshot.Copy()

	if persistence.IsRootIndexed(snapshot) {
		key := persistence.RootIndexKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
		if _, exists := m.roots[key]; !exists {
			m.roots[key] = snapshot.ID
		}
	}

	return nil
}

// LoadSnapshot retrieves a snapshot by ID
func (m *MemoryPersistence) LoadSnapshot(id string) (*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	snapshot, exists := m.snapshots[id]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return snapshot.Copy(), nil
}

// ListSnapshots returns all snapshots ordered by creation time
func (m *MemoryPersistence) ListSnapshots() ([]*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.Snapshot, 0, len(m.snapshots))
	for _, snapshot := range m.snapshots {
		result = append(result, snapshot.Copy())
	}
	persistence.SortSnapshots(result)

	return result, nil
}

// DeleteSnapshot removes a snapshot
func (m *MemoryPersistence) DeleteSnapshot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	snapshot, exists := m.snapshots[id]
	if !exists {
		return nil
	}
	delete(m.snapshots, id)

	key := persistence.RootIndexKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
	if m.roots[key] == id {
		delete(m.roots, key)
	}

	return nil
}

// FindByRoot returns the snapshot indexed under the (chain, asset, root) triple
func (m *MemoryPersistence) FindByRoot(chainID uint64, asset common.Address, rootHash []byte) (*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	id, exists := m.roots[persistence.RootIndexKey(chainID, asset, rootHash)]
	if !exists {
		return nil, nil
	}

	snapshot, exists := m.snapshots[id]
	if !exists {
		return nil, nil
	}

	return snapshot.Copy(), nil
}

// Close marks the persistence layer as closed
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck reports whether the persistence layer is usable
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
