package util

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// EncodedAccountBalanceLength is the size of abi.encode(address, uint256)
const EncodedAccountBalanceLength = 64

var accountBalanceArguments = mustAccountBalanceArguments()

func mustAccountBalanceArguments() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create address ABI type: %v", err))
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create uint256 ABI type: %v", err))
	}
	return abi.Arguments{{Type: addressType}, {Type: uint256Type}}
}

// EncodeAccountBalance returns the canonical leaf encoding of an account balance:
// abi.encode(address, uint256). A Solidity verifier reproduces the leaf hash as
// keccak256(abi.encode(wallet, balance)).
func EncodeAccountBalance(ab *types.AccountBalance) ([]byte, error) {
	if ab == nil {
		return nil, fmt.Errorf("cannot encode nil account balance")
	}
	if ab.Balance == nil {
		return nil, fmt.Errorf("balance of %s is nil", ab.Address.Hex())
	}
	if ab.Balance.Sign() < 0 {
		return nil, fmt.Errorf("balance of %s is negative: %s", ab.Address.Hex(), ab.Balance.String())
	}
	if ab.Balance.BitLen() > 256 {
		return nil, fmt.Errorf("balance of %s does not fit into uint256", ab.Address.Hex())
	}

	encoded, err := accountBalanceArguments.Pack(ab.Address, ab.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to ABI encode account balance: %w", err)
	}
	return encoded, nil
}

// DecodeAccountBalance is the inverse of EncodeAccountBalance
func DecodeAccountBalance(data []byte) (*types.AccountBalance, error) {
	if len(data) != EncodedAccountBalanceLength {
		return nil, fmt.Errorf("encoded account balance must be %d bytes, got %d", EncodedAccountBalanceLength, len(data))
	}

	out, err := accountBalanceArguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to ABI decode account balance: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("unexpected number of decoded values: %d", len(out))
	}

	address, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("decoded address has unexpected type %T", out[0])
	}
	balance, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decoded balance has unexpected type %T", out[1])
	}

	return types.NewAccountBalance(address, balance), nil
}
