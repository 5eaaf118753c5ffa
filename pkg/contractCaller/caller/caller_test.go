package caller

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller"
)

// fakeChain serves Transfer logs and balanceOf calls for a single token
type fakeChain struct {
	mu       sync.Mutex
	chainId  uint64
	head     uint64
	token    common.Address
	logs     []ethTypes.Log
	balances map[common.Address]*big.Int

	queries  []ethereum.FilterQuery
	logsErr  error
	maxRange uint64
}

func newFakeChain(token common.Address) *fakeChain {
	return &fakeChain{
		chainId:  31337,
		head:     1000,
		token:    token,
		balances: make(map[common.Address]*big.Int),
	}
}

func (f *fakeChain) transfer(block uint64, from, to common.Address) {
	f.logs = append(f.logs, ethTypes.Log{
		Address:     f.token,
		BlockNumber: block,
		Topics: []common.Hash{
			ERC20.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
	})
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethTypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.maxRange != 0 && to-from+1 > f.maxRange {
		return nil, fmt.Errorf("Log response size exceeded. You can make eth_getLogs requests with up to a %d block range", f.maxRange)
	}

	var out []ethTypes.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethTypes.Log) (ethereum.Subscription, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != f.token {
		return nil, fmt.Errorf("unexpected call target")
	}

	method, err := ERC20.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	holder := args[0].(common.Address)

	balance, ok := f.balances[holder]
	if !ok {
		balance = new(big.Int)
	}
	return method.Outputs.Pack(balance)
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(f.chainId), nil
}

var testToken = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")

func newTestCaller(t *testing.T, chain *fakeChain, span uint64) *ContractCaller {
	t.Helper()
	cc, err := NewContractCaller(context.Background(), chain, &ContractCallerConfig{LogBlockSpan: span}, zap.NewNop())
	require.NoError(t, err)
	return cc
}

func TestNewContractCaller_ChainIdMismatch(t *testing.T) {
	chain := newFakeChain(testToken)

	_, err := NewContractCaller(context.Background(), chain, &ContractCallerConfig{ExpectedChainId: 1}, zap.NewNop())
	require.Error(t, err)

	cc, err := NewContractCaller(context.Background(), chain, &ContractCallerConfig{ExpectedChainId: 31337}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), cc.ChainId())
	assert.Equal(t, DefaultLogBlockSpan, cc.logBlockSpan)
}

func TestFindTokenHolders_Chunked(t *testing.T) {
	chain := newFakeChain(testToken)
	mint := common.Address{}
	chain.transfer(5, mint, common.HexToAddress("0x2"))
	chain.transfer(150, common.HexToAddress("0x2"), common.HexToAddress("0x1"))
	chain.transfer(250, common.HexToAddress("0x1"), common.HexToAddress("0x3"))
	chain.transfer(900, common.HexToAddress("0x3"), common.HexToAddress("0x9"))

	cc := newTestCaller(t, chain, 100)

	holders, err := cc.FindTokenHolders(context.Background(), testToken, 0, 299)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0x1"),
		common.HexToAddress("0x2"),
		common.HexToAddress("0x3"),
	}, holders)

	require.Len(t, chain.queries, 3)
	for i, q := range chain.queries {
		assert.Equal(t, uint64(i*100), q.FromBlock.Uint64())
		assert.Equal(t, uint64(i*100+99), q.ToBlock.Uint64())
		assert.Equal(t, []common.Address{testToken}, q.Addresses)
	}
}

func TestFindTokenHolders_SingleBlock(t *testing.T) {
	chain := newFakeChain(testToken)
	chain.transfer(7, common.HexToAddress("0x5"), common.HexToAddress("0x6"))

	cc := newTestCaller(t, chain, 100)

	holders, err := cc.FindTokenHolders(context.Background(), testToken, 7, 7)
	require.NoError(t, err)
	assert.Len(t, holders, 2)
	assert.Len(t, chain.queries, 1)

	_, err = cc.FindTokenHolders(context.Background(), testToken, 8, 7)
	assert.Error(t, err)
}

func TestFindTokenHolders_LogResponseLimit(t *testing.T) {
	chain := newFakeChain(testToken)
	chain.maxRange = 50

	cc := newTestCaller(t, chain, 100)

	_, err := cc.FindTokenHolders(context.Background(), testToken, 0, 500)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contractCaller.ErrLogResponseLimit))

	// a span inside the provider's limit succeeds
	cc = newTestCaller(t, chain, 50)
	_, err = cc.FindTokenHolders(context.Background(), testToken, 0, 500)
	require.NoError(t, err)
}

func TestFindTokenHolders_OtherError(t *testing.T) {
	chain := newFakeChain(testToken)
	chain.logsErr = fmt.Errorf("connection refused")

	cc := newTestCaller(t, chain, 100)

	_, err := cc.FindTokenHolders(context.Background(), testToken, 0, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, contractCaller.ErrLogResponseLimit))
}

func TestBalanceOf(t *testing.T) {
	chain := newFakeChain(testToken)
	expected, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	chain.balances[common.HexToAddress("0x1")] = expected

	cc := newTestCaller(t, chain, 100)

	balance, err := cc.BalanceOf(context.Background(), testToken, common.HexToAddress("0x1"), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expected.Cmp(balance))

	balance, err = cc.BalanceOf(context.Background(), testToken, common.HexToAddress("0x2"), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())
}

func TestFetchAccountBalances_EndToEnd(t *testing.T) {
	chain := newFakeChain(testToken)
	chain.transfer(1, common.Address{}, common.HexToAddress("0x1"))
	chain.transfer(2, common.HexToAddress("0x1"), common.HexToAddress("0x2"))
	chain.transfer(3, common.HexToAddress("0x1"), common.HexToAddress("0xdead"))
	chain.balances[common.HexToAddress("0x1")] = big.NewInt(60)
	chain.balances[common.HexToAddress("0x2")] = big.NewInt(40)
	chain.balances[common.HexToAddress("0xdead")] = big.NewInt(5)

	cc := newTestCaller(t, chain, 2)

	balances, err := contractCaller.FetchAccountBalances(context.Background(), cc, testToken,
		[]common.Address{common.HexToAddress("0xdead")}, 0, 10)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(60), balances[0].Balance.Int64())
	assert.Equal(t, int64(40), balances[1].Balance.Int64())
}
