package contractCaller

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// ErrLogResponseLimit is returned when the RPC node refuses a log query because
// the response would be too large. Snapshots failing with it are marked
// LOG_RESPONSE_LIMIT so they can be retried with a smaller block span.
var ErrLogResponseLimit = errors.New("log response size limit exceeded")

// logLimitMessages are the error fragments RPC providers use for oversized log queries
var logLimitMessages = []string{
	"log response size exceeded",
	"query returned more than",
	"response size exceeded",
	"exceed maximum block range",
}

// IsLogResponseLimitMessage reports whether an RPC error message describes an
// oversized log query
func IsLogResponseLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, fragment := range logLimitMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IContractCaller reads the token state a balance snapshot is built from
type IContractCaller interface {
	// FindTokenHolders returns every address that sent or received the token in
	// [fromBlock, toBlock], sorted, excluding the zero address
	FindTokenHolders(ctx context.Context, token common.Address, fromBlock, toBlock uint64) ([]common.Address, error)

	// BalanceOf returns the token balance of holder at blockNumber
	BalanceOf(ctx context.Context, token common.Address, holder common.Address, blockNumber uint64) (*big.Int, error)

	// BlockNumber returns the latest block number
	BlockNumber(ctx context.Context) (uint64, error)
}

// FetchAccountBalances discovers all holders of token up to toBlock and reads
// their balance at toBlock. Ignored holders and zero balances are dropped; the
// result is sorted by address.
func FetchAccountBalances(
	ctx context.Context,
	c IContractCaller,
	token common.Address,
	ignored []common.Address,
	fromBlock uint64,
	toBlock uint64,
) ([]*types.AccountBalance, error) {
	holders, err := c.FindTokenHolders(ctx, token, fromBlock, toBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find holders of %s", token.Hex())
	}

	skip := make(map[common.Address]struct{}, len(ignored))
	for _, addr := range ignored {
		skip[addr] = struct{}{}
	}

	balances := make([]*types.AccountBalance, 0, len(holders))
	for _, holder := range holders {
		if _, ok := skip[holder]; ok {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		balance, err := c.BalanceOf(ctx, token, holder, toBlock)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read balance of %s", holder.Hex())
		}
		if balance.Sign() == 0 {
			continue
		}

		balances = append(balances, &types.AccountBalance{Address: holder, Balance: balance})
	}

	sort.Slice(balances, func(i, j int) bool {
		return bytes.Compare(balances[i].Address[:], balances[j].Address[:]) < 0
	})

	return balances, nil
}
