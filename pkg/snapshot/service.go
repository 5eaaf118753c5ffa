package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// DefaultTreeCacheSize is the number of rebuilt trees kept in memory
const DefaultTreeCacheSize = 64

// ServiceConfig configures a Service
type ServiceConfig struct {
	// ChainId, when non-zero, is the only chain snapshots may be requested for
	ChainId uint64
	// HashFunction is used when a request does not name one
	HashFunction merkle.HashFunction
	// TreeCacheSize bounds the rebuilt tree cache
	TreeCacheSize int
}

// Service owns the snapshot lifecycle: submission, processing of pending
// snapshots, and tree and proof queries over completed ones
type Service struct {
	persistence persistence.ISnapshotPersistence
	fetcher     BalanceFetcher
	trees       *lru.Cache[string, *merkle.MerkleTree]
	logger      *zap.Logger

	chainId       uint64
	defaultHashFn merkle.HashFunction

	// processMu serializes ProcessPending so a snapshot is never processed twice
	processMu sync.Mutex
	// storeMu orders the final write of a processed snapshot against DeleteSnapshot
	storeMu sync.Mutex
	trigger   chan struct{}

	now func() time.Time
}

// NewService creates a snapshot service. fetcher may be nil, in which case
// only snapshots built from explicit balance lists can be completed.
func NewService(
	cfg *ServiceConfig,
	store persistence.ISnapshotPersistence,
	fetcher BalanceFetcher,
	logger *zap.Logger,
) (*Service, error) {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if store == nil {
		return nil, fmt.Errorf("persistence is required")
	}

	hashFn := cfg.HashFunction
	if hashFn == nil {
		hashFn = merkle.Keccak256
	}

	cacheSize := cfg.TreeCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultTreeCacheSize
	}
	trees, err := lru.New[string, *merkle.MerkleTree](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}

	return &Service{
		persistence:   store,
		fetcher:       fetcher,
		trees:         trees,
		logger:        logger,
		chainId:       cfg.ChainId,
		defaultHashFn: hashFn,
		trigger:       make(chan struct{}, 1),
		now:           time.Now,
	}, nil
}

// SubmitSnapshot validates the parameters and stores a PENDING snapshot that
// the next ProcessPending call will complete
func (s *Service) SubmitSnapshot(ctx context.Context, params *CreateSnapshotParams) (string, error) {
	hashFn, err := params.validate(s.chainId, s.defaultHashFn)
	if err != nil {
		return "", err
	}
	if s.fetcher == nil {
		return "", fmt.Errorf("%w: chain snapshots are disabled, no balance fetcher configured", ErrInvalidRequest)
	}

	snapshot := s.newSnapshot(params, hashFn)
	if err := s.persistence.SaveSnapshot(snapshot); err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.Trigger()

	s.logger.Sugar().Infow("Snapshot submitted",
		"id", snapshot.ID,
		"name", snapshot.Name,
		"chainId", snapshot.ChainID,
		"asset", snapshot.AssetAddress.Hex(),
		"blockNumber", snapshot.BlockNumber,
		"ignoredHolders", len(snapshot.IgnoredHolderAddresses),
	)

	return snapshot.ID, nil
}

// CreateSnapshotFromBalances builds a snapshot synchronously from an explicit
// balance list. Invalid input is returned as an error and nothing is stored.
func (s *Service) CreateSnapshotFromBalances(
	ctx context.Context,
	params *CreateSnapshotParams,
	balances []*types.AccountBalance,
) (*types.Snapshot, error) {
	hashFn, err := params.validate(s.chainId, s.defaultHashFn)
	if err != nil {
		return nil, err
	}

	snapshot := s.newSnapshot(params, hashFn)
	tree, err := s.complete(snapshot, balances, hashFn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := s.markDuplicate(snapshot); err != nil {
		return nil, err
	}

	if err := s.persistence.SaveSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	s.trees.Add(snapshot.ID, tree)

	s.logSuccess(snapshot)
	return snapshot.Copy(), nil
}

func (s *Service) newSnapshot(params *CreateSnapshotParams, hashFn merkle.HashFunction) *types.Snapshot {
	return &types.Snapshot{
		ID:                     uuid.NewString(),
		Name:                   params.Name,
		ChainID:                params.ChainID,
		AssetAddress:           params.AssetAddress,
		BlockNumber:            params.BlockNumber,
		IgnoredHolderAddresses: append([]common.Address(nil), params.IgnoredHolderAddresses...),
		HashFunction:           hashFn.Name().String(),
		Status:                 types.SnapshotStatusPending,
		CreatedAt:              s.now().Unix(),
	}
}

// ProcessPending completes every PENDING snapshot in submission order and
// returns how many were processed. A snapshot that cannot be completed is
// stored as FAILED; only storage errors abort the run.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	snapshots, err := s.persistence.ListSnapshots()
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	processed := 0
	for _, snapshot := range snapshots {
		if snapshot.Status != types.SnapshotStatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		err := s.processSnapshot(ctx, snapshot)
		if errors.Is(err, ErrBlockNotReached) {
			s.logger.Sugar().Debugw("Snapshot block not reached yet", "id", snapshot.ID, "blockNumber", snapshot.BlockNumber)
			continue
		}
		if err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (s *Service) processSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	s.logger.Sugar().Infow("Processing pending snapshot", "id", snapshot.ID)

	hashFn, err := merkle.HashFunctionFromName(snapshot.HashFunction)
	if err != nil {
		return s.fail(snapshot, types.SnapshotFailureCauseOther, err)
	}
	if s.fetcher == nil {
		return s.fail(snapshot, types.SnapshotFailureCauseOther, fmt.Errorf("no balance fetcher configured"))
	}

	balances, err := s.fetcher.FetchBalances(ctx, snapshot)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down: leave the snapshot pending for the next run
			return ctx.Err()
		}
		if errors.Is(err, ErrBlockNotReached) {
			return err
		}
		cause := types.SnapshotFailureCauseOther
		if errors.Is(err, contractCaller.ErrLogResponseLimit) {
			cause = types.SnapshotFailureCauseLogResponseLimit
		}
		return s.fail(snapshot, cause, err)
	}

	tree, err := s.complete(snapshot, balances, hashFn)
	if err != nil {
		return s.fail(snapshot, types.SnapshotFailureCauseOther, err)
	}
	if err := s.markDuplicate(snapshot); err != nil {
		return err
	}

	stored, err := s.saveIfPresent(snapshot, tree)
	if err != nil {
		return err
	}
	if stored {
		s.logSuccess(snapshot)
	}
	return nil
}

// saveIfPresent stores a processed snapshot unless it was deleted while it was
// being processed, and caches its tree when one is given
func (s *Service) saveIfPresent(snapshot *types.Snapshot, tree *merkle.MerkleTree) (bool, error) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	current, err := s.persistence.LoadSnapshot(snapshot.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot %s: %w", snapshot.ID, err)
	}
	if current == nil {
		s.logger.Sugar().Infow("Snapshot deleted while processing, dropping result", "id", snapshot.ID)
		return false, nil
	}

	if err := s.persistence.SaveSnapshot(snapshot); err != nil {
		return false, fmt.Errorf("failed to store snapshot %s: %w", snapshot.ID, err)
	}
	if tree != nil {
		s.trees.Add(snapshot.ID, tree)
	}
	return true, nil
}

// complete builds the tree over balances and fills in the SUCCESS fields of
// snapshot. Ignored holders and zero balances are dropped first.
func (s *Service) complete(snapshot *types.Snapshot, balances []*types.AccountBalance, hashFn merkle.HashFunction) (*merkle.MerkleTree, error) {
	leaves := make([]*types.AccountBalance, 0, len(balances))
	total := new(big.Int)
	for _, b := range balances {
		if b == nil || b.Balance == nil {
			return nil, merkle.ErrInvalidLeaf
		}
		if snapshot.IsIgnored(b.Address) || b.Balance.Sign() == 0 {
			continue
		}
		leaves = append(leaves, b)
		total.Add(total, b.Balance)
	}

	tree, err := merkle.NewMerkleTree(leaves, hashFn)
	if err != nil {
		return nil, err
	}

	snapshot.Status = types.SnapshotStatusSuccess
	snapshot.FailureCause = types.SnapshotFailureCauseNone
	snapshot.RootHash = tree.RootHash()
	snapshot.Depth = tree.Depth()
	snapshot.TotalAssetAmount = total
	snapshot.Balances = tree.AccountBalances()
	snapshot.CompletedAt = s.now().Unix()

	return tree, nil
}

// markDuplicate points snapshot at an earlier successful snapshot of the same
// asset with the same root, if there is one
func (s *Service) markDuplicate(snapshot *types.Snapshot) error {
	existing, err := s.persistence.FindByRoot(snapshot.ChainID, snapshot.AssetAddress, snapshot.RootHash)
	if err != nil {
		return fmt.Errorf("failed to look up existing tree: %w", err)
	}
	if existing != nil && existing.ID != snapshot.ID {
		snapshot.DuplicateOf = existing.ID
	}
	return nil
}

func (s *Service) fail(snapshot *types.Snapshot, cause types.SnapshotFailureCause, reason error) error {
	s.logger.Sugar().Errorw("Failed to process snapshot",
		"id", snapshot.ID,
		"cause", cause,
		"error", reason,
	)

	snapshot.Status = types.SnapshotStatusFailed
	snapshot.FailureCause = cause
	snapshot.CompletedAt = s.now().Unix()

	_, err := s.saveIfPresent(snapshot, nil)
	return err
}

func (s *Service) logSuccess(snapshot *types.Snapshot) {
	s.logger.Sugar().Infow("Snapshot completed",
		"id", snapshot.ID,
		"rootHash", merkle.Hash(snapshot.RootHash).Hex(),
		"depth", snapshot.Depth,
		"leaves", len(snapshot.Balances),
		"totalAssetAmount", snapshot.TotalAssetAmount.String(),
		"duplicateOf", snapshot.DuplicateOf,
	)
}

// Trigger asks Run to process pending snapshots now instead of waiting for
// the next tick. It never blocks.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run processes pending snapshots every interval, and whenever Trigger is
// called, until ctx is done
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	s.logger.Sugar().Infow("Snapshot processor started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Sugar().Info("Snapshot processor stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	processed, err := s.ProcessPending(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Sugar().Errorw("Failed to process pending snapshots", "error", err)
	}
	if processed > 0 {
		s.logger.Sugar().Debugw("Processed pending snapshots", "count", processed)
	}
}

// GetSnapshot returns a snapshot by ID
func (s *Service) GetSnapshot(id string) (*types.Snapshot, error) {
	snapshot, err := s.persistence.LoadSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snapshot, nil
}

// ListSnapshots returns all snapshots in submission order
func (s *Service) ListSnapshots() ([]*types.Snapshot, error) {
	return s.persistence.ListSnapshots()
}

// GetTree returns the Merkle tree of a successful snapshot, rebuilding it from
// the stored balances when it is not cached
func (s *Service) GetTree(id string) (*merkle.MerkleTree, error) {
	if tree, ok := s.trees.Get(id); ok {
		return tree, nil
	}

	snapshot, err := s.GetSnapshot(id)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != types.SnapshotStatusSuccess {
		return nil, fmt.Errorf("%w: %s is %s", ErrSnapshotNotReady, id, snapshot.Status)
	}

	hashFn, err := merkle.HashFunctionFromName(snapshot.HashFunction)
	if err != nil {
		return nil, err
	}

	tree, err := merkle.NewMerkleTree(snapshot.Balances, hashFn)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild tree for snapshot %s: %w", id, err)
	}
	if !tree.RootHash().Equal(snapshot.RootHash) {
		s.logger.Sugar().Errorw("Rebuilt tree does not match stored root",
			"id", id,
			"storedRoot", merkle.Hash(snapshot.RootHash).Hex(),
			"rebuiltRoot", tree.RootHash().Hex(),
		)
		return nil, fmt.Errorf("%w: snapshot %s", ErrRootMismatch, id)
	}

	s.trees.Add(id, tree)
	return tree, nil
}

// GetProof returns the Merkle proof of address in a successful snapshot
func (s *Service) GetProof(id string, address common.Address) (*merkle.MerkleProof, error) {
	tree, err := s.GetTree(id)
	if err != nil {
		return nil, err
	}

	proof, ok := tree.ProofFor(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, address.Hex())
	}
	return proof, nil
}

// DeleteSnapshot removes a snapshot and evicts its cached tree
func (s *Service) DeleteSnapshot(id string) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	if err := s.persistence.DeleteSnapshot(id); err != nil {
		return err
	}
	s.trees.Remove(id)
	return nil
}

// HealthCheck reports whether the underlying persistence is usable
func (s *Service) HealthCheck() error {
	return s.persistence.HealthCheck()
}
