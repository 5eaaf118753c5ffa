package merkle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyInput          = errors.New("cannot build Merkle tree from empty list")
	ErrDuplicateKey        = errors.New("address collision while constructing leaf nodes")
	ErrDuplicateHash       = errors.New("hash collision while constructing leaf nodes")
	ErrInvalidLeaf         = errors.New("invalid leaf")
	ErrUnknownHashFunction = errors.New("unknown hash function")
	ErrNilHashFunction     = errors.New("hash function must not be nil")
)

// DuplicateKeyError is returned when two leaves share an address
type DuplicateKeyError struct {
	Address common.Address
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateKey.Error(), e.Address.Hex())
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// DuplicateHashError is returned when two distinct leaves hash to the same value
type DuplicateHashError struct {
	Hash   Hash
	First  common.Address
	Second common.Address
}

func (e *DuplicateHashError) Error() string {
	return fmt.Sprintf("%s: %s (addresses %s and %s)",
		ErrDuplicateHash.Error(), e.Hash.Hex(), e.First.Hex(), e.Second.Hex())
}

func (e *DuplicateHashError) Unwrap() error {
	return ErrDuplicateHash
}
