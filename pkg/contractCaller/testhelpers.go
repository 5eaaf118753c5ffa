package contractCaller

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// FakeContractCaller is an in-memory IContractCaller for tests. Balances are
// the same at every block.
type FakeContractCaller struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int

	// HoldersErr, when set, is returned by FindTokenHolders
	HoldersErr error
	// Head is returned by BlockNumber
	Head uint64

	balanceCalls int
}

var _ IContractCaller = (*FakeContractCaller)(nil)

func NewFakeContractCaller() *FakeContractCaller {
	return &FakeContractCaller{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// SetBalance records the balance of holder for token
func (f *FakeContractCaller) SetBalance(token, holder common.Address, balance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.balances[token] == nil {
		f.balances[token] = make(map[common.Address]*big.Int)
	}
	f.balances[token][holder] = new(big.Int).Set(balance)
}

// BalanceCalls returns how many BalanceOf calls were made
func (f *FakeContractCaller) BalanceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func (f *FakeContractCaller) FindTokenHolders(ctx context.Context, token common.Address, fromBlock, toBlock uint64) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.HoldersErr != nil {
		return nil, f.HoldersErr
	}

	holders := make([]common.Address, 0, len(f.balances[token]))
	for holder := range f.balances[token] {
		holders = append(holders, holder)
	}
	sort.Slice(holders, func(i, j int) bool {
		return bytes.Compare(holders[i][:], holders[j][:]) < 0
	})
	return holders, nil
}

func (f *FakeContractCaller) BalanceOf(ctx context.Context, token, holder common.Address, blockNumber uint64) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balanceCalls++
	if balance, ok := f.balances[token][holder]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (f *FakeContractCaller) BlockNumber(ctx context.Context) (uint64, error) {
	return f.Head, nil
}
