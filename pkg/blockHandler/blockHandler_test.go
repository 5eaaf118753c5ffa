package blockHandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testBlock(number uint64) *ethereum.EthereumBlock {
	return &ethereum.EthereumBlock{
		Number:    ethereum.EthereumQuantity(number),
		Hash:      ethereum.EthereumHexString("0x123"),
		Timestamp: ethereum.EthereumQuantity(time.Now().Unix()),
	}
}

func Test_BlockHandler(t *testing.T) {
	t.Run("ReceiveFromPoller", func(t *testing.T) {
		bh := NewBlockHandler(zap.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var receivedBlocks []uint64
		var mu sync.Mutex

		go bh.ListenToChannel(ctx, func(block *ethereum.EthereumBlock) {
			mu.Lock()
			defer mu.Unlock()
			receivedBlocks = append(receivedBlocks, block.Number.Value())
		})

		testBlocks := []uint64{1, 2, 5, 10, 15}
		for _, blockNum := range testBlocks {
			assert.NoError(t, bh.HandleBlock(ctx, testBlock(blockNum)))
		}

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(receivedBlocks) == len(testBlocks)
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.Equal(t, testBlocks, receivedBlocks)
		mu.Unlock()
		assert.Equal(t, uint64(15), bh.LatestBlock())
	})

	t.Run("LatestBlockNeverMovesBackwards", func(t *testing.T) {
		bh := NewBlockHandler(zap.NewNop())
		assert.Equal(t, uint64(0), bh.LatestBlock())

		ctx := context.Background()
		_ = bh.HandleBlock(ctx, testBlock(20))
		_ = bh.HandleBlock(ctx, testBlock(7))
		assert.Equal(t, uint64(20), bh.LatestBlock())
	})

	t.Run("FullChannelDropsBlocks", func(t *testing.T) {
		bh := NewBlockHandler(zap.NewNop())
		ctx := context.Background()

		total := cap(bh.BlockChannel) + 5
		for i := 1; i <= total; i++ {
			assert.NoError(t, bh.HandleBlock(ctx, testBlock(uint64(i))))
		}

		assert.Len(t, bh.BlockChannel, cap(bh.BlockChannel))
		assert.Equal(t, uint64(total), bh.LatestBlock())
	})

	t.Run("ListenerStopsOnContextDone", func(t *testing.T) {
		bh := NewBlockHandler(zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			bh.ListenToChannel(ctx, func(*ethereum.EthereumBlock) {})
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not exit")
		}
	})

	t.Run("IgnoresLogsAndReorgs", func(t *testing.T) {
		bh := NewBlockHandler(zap.NewNop())
		assert.NoError(t, bh.HandleLog(context.Background(), nil))
		bh.HandleReorgBlock(context.Background(), 10)
	})
}
