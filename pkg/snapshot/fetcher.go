package snapshot

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// BalanceFetcher produces the holder balances of a pending snapshot. It returns
// ErrBlockNotReached while the snapshot block is still in the future.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, snapshot *types.Snapshot) ([]*types.AccountBalance, error)
}

// HeadReader reports the latest block seen by a chain poller
type HeadReader interface {
	LatestBlock() uint64
}

// ChainBalanceFetcher reads balances from the chain through an IContractCaller,
// scanning Transfer logs from StartBlock up to the snapshot block
type ChainBalanceFetcher struct {
	Caller     contractCaller.IContractCaller
	StartBlock uint64
	// Heads, when set and past block 0, is used instead of querying the head per fetch
	Heads HeadReader
}

func NewChainBalanceFetcher(caller contractCaller.IContractCaller, startBlock uint64) *ChainBalanceFetcher {
	return &ChainBalanceFetcher{Caller: caller, StartBlock: startBlock}
}

func (f *ChainBalanceFetcher) FetchBalances(ctx context.Context, snapshot *types.Snapshot) ([]*types.AccountBalance, error) {
	head, err := f.head(ctx)
	if err != nil {
		return nil, err
	}
	if head < snapshot.BlockNumber {
		return nil, fmt.Errorf("%w: head %d, snapshot block %d", ErrBlockNotReached, head, snapshot.BlockNumber)
	}

	return contractCaller.FetchAccountBalances(
		ctx,
		f.Caller,
		snapshot.AssetAddress,
		snapshot.IgnoredHolderAddresses,
		f.StartBlock,
		snapshot.BlockNumber,
	)
}

func (f *ChainBalanceFetcher) head(ctx context.Context) (uint64, error) {
	if f.Heads != nil {
		if latest := f.Heads.LatestBlock(); latest > 0 {
			return latest, nil
		}
	}
	head, err := f.Caller.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}
	return head, nil
}
