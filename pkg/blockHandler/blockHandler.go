package blockHandler

import (
	"context"
	"sync/atomic"

	chainPoller "github.com/Layr-Labs/chain-indexer/pkg/chainPollers"
	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	"go.uber.org/zap"
)

type IBlockHandler interface {
	chainPoller.IBlockHandler
	ListenToChannel(ctx context.Context, handleFunc func(*ethereum.EthereumBlock))
	LatestBlock() uint64
}

// BlockHandler receives new heads from the chain poller, remembers the highest
// one and forwards every block to a single listener
type BlockHandler struct {
	BlockChannel chan *ethereum.EthereumBlock
	latest       atomic.Uint64
	logger       *zap.Logger
}

func NewBlockHandler(
	logger *zap.Logger,
) *BlockHandler {
	return &BlockHandler{
		// listeners only need to know that the head moved, a short buffer is enough
		BlockChannel: make(chan *ethereum.EthereumBlock, 16),
		logger:       logger,
	}
}

// LatestBlock returns the highest block number seen so far, 0 before the first block
func (h *BlockHandler) LatestBlock() uint64 {
	return h.latest.Load()
}

func (h *BlockHandler) ListenToChannel(ctx context.Context, handleFunc func(*ethereum.EthereumBlock)) {
	for {
		select {
		case block := <-h.BlockChannel:
			h.logger.Sugar().Debugw("BlockHandler received block from channel", "block", block.Number.Value())
			handleFunc(block)
		case <-ctx.Done():
			h.logger.Sugar().Info("BlockHandler channel listener exiting due to context done")
			return
		}
	}
}

func (h *BlockHandler) HandleBlock(ctx context.Context, block *ethereum.EthereumBlock) error {
	number := block.Number.Value()
	for {
		current := h.latest.Load()
		if number <= current || h.latest.CompareAndSwap(current, number) {
			break
		}
	}

	select {
	case h.BlockChannel <- block:
		h.logger.Sugar().Debugw("Block sent to channel", "block", number)
	case <-ctx.Done():
		h.logger.Sugar().Warnw("Context done before sending block to channel", "block", number)
	default:
		// the listener is behind; it will pick up the newest head on its next pass
		h.logger.Sugar().Debugw("Block channel is full, dropping block", "block", number)
	}
	return nil
}

func (h *BlockHandler) HandleLog(ctx context.Context, logWithBlock *chainPoller.LogWithBlock) error {
	// Transfer logs are read on demand per snapshot, not from the poller
	return nil
}

func (h *BlockHandler) HandleReorgBlock(ctx context.Context, blockNumber uint64) {
	h.logger.Sugar().Warnw("Chain reorg detected", "block", blockNumber)
}
