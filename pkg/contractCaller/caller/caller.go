package caller

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/contractCaller"
)

// DefaultLogBlockSpan is the number of blocks requested per eth_getLogs call
const DefaultLogBlockSpan uint64 = 10_000

// ChainClient is the subset of *ethclient.Client the caller uses
type ChainClient interface {
	goethereum.LogFilterer
	goethereum.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

type ContractCaller struct {
	client       ChainClient
	logger       *zap.Logger
	logBlockSpan uint64
	chainId      uint64
}

var _ contractCaller.IContractCaller = (*ContractCaller)(nil)

// ContractCallerConfig configures a ContractCaller
type ContractCallerConfig struct {
	// ExpectedChainId, when non-zero, must match the chain the client is connected to
	ExpectedChainId uint64
	// LogBlockSpan caps the block range of a single log query
	LogBlockSpan uint64
}

// NewContractCallerFromEthereumClient wraps the go-ethereum client held by a
// chain-indexer client, so the block poller and the caller share one connection
func NewContractCallerFromEthereumClient(
	ctx context.Context,
	ethClient *ethereum.EthereumClient,
	cfg *ContractCallerConfig,
	logger *zap.Logger,
) (*ContractCaller, error) {
	client, err := ethClient.GetEthereumContractCaller()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ethereum contract caller")
	}
	return NewContractCaller(ctx, client, cfg, logger)
}

func NewContractCaller(
	ctx context.Context,
	client ChainClient,
	cfg *ContractCallerConfig,
	logger *zap.Logger,
) (*ContractCaller, error) {
	if cfg == nil {
		cfg = &ContractCallerConfig{}
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}
	if cfg.ExpectedChainId != 0 && chainId.Uint64() != cfg.ExpectedChainId {
		return nil, fmt.Errorf("connected to chain %d, expected %d", chainId.Uint64(), cfg.ExpectedChainId)
	}

	span := cfg.LogBlockSpan
	if span == 0 {
		span = DefaultLogBlockSpan
	}

	logger.Sugar().Infow("Contract caller initialized",
		"chainId", chainId.Uint64(),
		"logBlockSpan", span,
	)

	return &ContractCaller{
		client:       client,
		logger:       logger,
		logBlockSpan: span,
		chainId:      chainId.Uint64(),
	}, nil
}

// ChainId returns the chain the caller is connected to
func (cc *ContractCaller) ChainId() uint64 {
	return cc.chainId
}

func (cc *ContractCaller) BlockNumber(ctx context.Context) (uint64, error) {
	blockNumber, err := cc.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get block number")
	}
	return blockNumber, nil
}

// FindTokenHolders scans Transfer logs of the token in chunks of logBlockSpan blocks
func (cc *ContractCaller) FindTokenHolders(
	ctx context.Context,
	token common.Address,
	fromBlock uint64,
	toBlock uint64,
) ([]common.Address, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid block range [%d, %d]", fromBlock, toBlock)
	}

	transferTopic := ERC20.Events["Transfer"].ID
	holders := make(map[common.Address]struct{})

	for start := fromBlock; start <= toBlock; {
		end := start + cc.logBlockSpan - 1
		if end > toBlock || end < start {
			end = toBlock
		}

		query := goethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{token},
			Topics:    [][]common.Hash{{transferTopic}},
		}

		logs, err := cc.client.FilterLogs(ctx, query)
		if err != nil {
			if contractCaller.IsLogResponseLimitMessage(err.Error()) {
				return nil, errors.Wrapf(contractCaller.ErrLogResponseLimit,
					"blocks [%d, %d]: %v", start, end, err)
			}
			return nil, errors.Wrapf(err, "failed to filter Transfer logs in blocks [%d, %d]", start, end)
		}

		for _, log := range logs {
			// Transfer(address indexed from, address indexed to, uint256 value)
			if len(log.Topics) != 3 {
				continue
			}
			for _, topic := range log.Topics[1:] {
				holder := common.BytesToAddress(topic.Bytes())
				if holder != (common.Address{}) {
					holders[holder] = struct{}{}
				}
			}
		}

		cc.logger.Sugar().Debugw("Scanned Transfer logs",
			"token", token.Hex(),
			"fromBlock", start,
			"toBlock", end,
			"logs", len(logs),
			"holders", len(holders),
		)

		if end == toBlock {
			break
		}
		start = end + 1
	}

	result := make([]common.Address, 0, len(holders))
	for holder := range holders {
		result = append(result, holder)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i][:], result[j][:]) < 0
	})

	return result, nil
}

// BalanceOf calls balanceOf(holder) on the token at blockNumber
func (cc *ContractCaller) BalanceOf(
	ctx context.Context,
	token common.Address,
	holder common.Address,
	blockNumber uint64,
) (*big.Int, error) {
	data, err := ERC20.Pack("balanceOf", holder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf call")
	}

	output, err := cc.client.CallContract(ctx, goethereum.CallMsg{
		To:   &token,
		Data: data,
	}, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf(%s) call failed", holder.Hex())
	}

	values, err := ERC20.Unpack("balanceOf", output)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack balanceOf(%s) result", holder.Hex())
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(values))
	}

	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", values[0])
	}

	return balance, nil
}
