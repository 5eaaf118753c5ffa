package util

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress parses a hex address, rejecting anything common.HexToAddress
// would otherwise silently truncate or zero-pad from garbage
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseAddresses parses a list of hex addresses
func ParseAddresses(values []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(values))
	for _, v := range values {
		addr, err := ParseAddress(v)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseBalance parses a non-negative base-10 uint256 balance
func ParseBalance(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	balance, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance: %q", s)
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("balance must not be negative: %s", s)
	}
	if balance.BitLen() > 256 {
		return nil, fmt.Errorf("balance does not fit into uint256: %s", s)
	}
	return balance, nil
}
