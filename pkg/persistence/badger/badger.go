package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixSnapshot    = "snapshot:"
	keyPrefixRoot        = "root:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is the disk-backed persistence implementation.
// Provides durable storage with ACID transactions; a snapshot and its root
// index entry are always written in the same transaction.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.ISnapshotPersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence opens (or creates) a Badger database at dataPath with
// SyncWrites enabled and starts a background value log GC goroutine.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func snapshotKey(id string) []byte {
	return []byte(keyPrefixSnapshot + id)
}

func rootKey(chainID uint64, asset common.Address, rootHash []byte) []byte {
	return []byte(keyPrefixRoot + persistence.RootIndexKey(chainID, asset, rootHash))
}

// SaveSnapshot persists a snapshot and, if it is a canonical success, claims
// its root index entry
func (b *BadgerPersistence) SaveSnapshot(snapshot *types.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil Snapshot")
	}
	if snapshot.ID == "" {
		return fmt.Errorf("cannot save Snapshot without ID")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal Snapshot: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(snapshotKey(snapshot.ID), data); err != nil {
			return err
		}

		if !persistence.IsRootIndexed(snapshot) {
			return nil
		}

		key := rootKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
		_, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set(key, []byte(snapshot.ID))
		}
		return err
	})
}

// LoadSnapshot retrieves a snapshot by ID
func (b *BadgerPersistence) LoadSnapshot(id string) (*types.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = getValue(txn, snapshotKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Snapshot: %w", err)
	}

	if data == nil {
		return nil, nil // Not found
	}

	snapshot, err := persistence.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Snapshot: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots returns all snapshots ordered by creation time
func (b *BadgerPersistence) ListSnapshots() ([]*types.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	snapshots := make([]*types.Snapshot, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSnapshot)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			snapshot, err := persistence.UnmarshalSnapshot(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal Snapshot, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			snapshots = append(snapshots, snapshot)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Snapshots: %w", err)
	}

	persistence.SortSnapshots(snapshots)

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot and releases its root index entry
func (b *BadgerPersistence) DeleteSnapshot(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		data, err := getValue(txn, snapshotKey(id))
		if err != nil || data == nil {
			return err
		}

		snapshot, err := persistence.UnmarshalSnapshot(data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal Snapshot: %w", err)
		}

		key := rootKey(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
		owner, err := getValue(txn, key)
		if err != nil {
			return err
		}
		if string(owner) == id {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		return txn.Delete(snapshotKey(id))
	})
}

// FindByRoot returns the snapshot indexed under the (chain, asset, root) triple
func (b *BadgerPersistence) FindByRoot(chainID uint64, asset common.Address, rootHash []byte) (*types.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		id, err := getValue(txn, rootKey(chainID, asset, rootHash))
		if err != nil || id == nil {
			return err
		}
		data, err = getValue(txn, snapshotKey(string(id)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find Snapshot by root: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return persistence.UnmarshalSnapshot(data)
}

// getValue returns a copy of the value at key, or nil if the key is absent
func getValue(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Close stops the GC goroutine and closes the database
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
