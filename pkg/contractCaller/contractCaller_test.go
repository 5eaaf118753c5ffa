package contractCaller

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAccountBalances(t *testing.T) {
	token := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	fake := NewFakeContractCaller()
	fake.SetBalance(token, common.HexToAddress("0x3"), big.NewInt(300))
	fake.SetBalance(token, common.HexToAddress("0x1"), big.NewInt(100))
	fake.SetBalance(token, common.HexToAddress("0x2"), big.NewInt(0))
	fake.SetBalance(token, common.HexToAddress("0x4"), big.NewInt(400))

	balances, err := FetchAccountBalances(context.Background(), fake, token,
		[]common.Address{common.HexToAddress("0x4")}, 0, 100)
	require.NoError(t, err)

	require.Len(t, balances, 2)
	assert.Equal(t, common.HexToAddress("0x1"), balances[0].Address)
	assert.Equal(t, int64(100), balances[0].Balance.Int64())
	assert.Equal(t, common.HexToAddress("0x3"), balances[1].Address)
	assert.Equal(t, int64(300), balances[1].Balance.Int64())

	// ignored holders are never queried
	assert.Equal(t, 3, fake.BalanceCalls())
}

func TestFetchAccountBalances_HolderError(t *testing.T) {
	fake := NewFakeContractCaller()
	fake.HoldersErr = errors.Wrap(ErrLogResponseLimit, "blocks [0, 10]")

	_, err := FetchAccountBalances(context.Background(), fake, common.HexToAddress("0x1"), nil, 0, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLogResponseLimit))
}

func TestFetchAccountBalances_Cancelled(t *testing.T) {
	token := common.HexToAddress("0x1")
	fake := NewFakeContractCaller()
	fake.SetBalance(token, common.HexToAddress("0x2"), big.NewInt(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchAccountBalances(ctx, fake, token, nil, 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsLogResponseLimitMessage(t *testing.T) {
	testCases := []struct {
		msg      string
		expected bool
	}{
		{"Log response size exceeded. You can make eth_getLogs requests with up to a 2K block range", true},
		{"query returned more than 10000 results", true},
		{"exceed maximum block range: 50000", true},
		{"connection refused", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.msg), func(t *testing.T) {
			assert.Equal(t, tc.expected, IsLogResponseLimitMessage(tc.msg))
		})
	}
}
