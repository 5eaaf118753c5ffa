package merkle

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Hash is the digest of a node. Its length depends on the hash function: 32 bytes
// for the cryptographic variants, arbitrary for IDENTITY.
type Hash []byte

// HashFromHex decodes a 0x-prefixed hex string
func HashFromHex(s string) (Hash, error) {
	decoded, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return Hash(decoded), nil
}

// Hex returns the 0x-prefixed lowercase hex form of the hash
func (h Hash) Hex() string {
	return hexutil.Encode(h)
}

func (h Hash) String() string {
	return h.Hex()
}

// Equal reports whether both hashes hold the same bytes
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// Compare orders hashes byte-wise; this is the canonical leaf order
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h, other)
}

// Clone returns a copy that shares no memory with h
func (h Hash) Clone() Hash {
	if h == nil {
		return nil
	}
	return append(Hash{}, h...)
}

// MarshalText encodes the hash as 0x-prefixed hex
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText decodes a 0x-prefixed hex hash
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// HashFunctionName identifies a hash function in stored snapshots and on the wire
type HashFunctionName string

const (
	HashFunctionIdentity  HashFunctionName = "IDENTITY"
	HashFunctionFixed     HashFunctionName = "FIXED"
	HashFunctionKeccak256 HashFunctionName = "KECCAK_256"
	HashFunctionSha3_256  HashFunctionName = "SHA3_256"
)

func (n HashFunctionName) String() string {
	return string(n)
}

// HashFunction hashes leaf encodings and combines child hashes into parent hashes.
// Combine must be hash(left || right) so that on-chain verifiers can reproduce it.
type HashFunction interface {
	Name() HashFunctionName
	HashLeaf(data []byte) Hash
	Combine(left, right Hash) Hash
}

type digestHashFunction struct {
	name   HashFunctionName
	digest func(data []byte) []byte
}

func (h *digestHashFunction) Name() HashFunctionName {
	return h.name
}

func (h *digestHashFunction) HashLeaf(data []byte) Hash {
	return Hash(h.digest(data))
}

func (h *digestHashFunction) Combine(left, right Hash) Hash {
	data := make([]byte, 0, len(left)+len(right))
	data = append(data, left...)
	data = append(data, right...)
	return Hash(h.digest(data))
}

var (
	// Identity returns its input unchanged, so Combine is plain concatenation.
	// Only for tests and debugging: tree structure is readable from the hashes
	// but there is no collision resistance at all.
	Identity HashFunction = &digestHashFunction{
		name: HashFunctionIdentity,
		digest: func(data []byte) []byte {
			return append([]byte{}, data...)
		},
	}

	// Fixed maps every input to 32 zero bytes. Only useful to force collisions in tests.
	Fixed HashFunction = &digestHashFunction{
		name: HashFunctionFixed,
		digest: func([]byte) []byte {
			return make([]byte, 32)
		},
	}

	// Keccak256 is the production hash function, compatible with Solidity's keccak256
	Keccak256 HashFunction = &digestHashFunction{
		name: HashFunctionKeccak256,
		digest: func(data []byte) []byte {
			return crypto.Keccak256(data)
		},
	}

	// Sha3_256 is FIPS-202 SHA3-256, for verifiers outside the EVM
	Sha3_256 HashFunction = &digestHashFunction{
		name: HashFunctionSha3_256,
		digest: func(data []byte) []byte {
			sum := sha3.Sum256(data)
			return sum[:]
		},
	}
)

var hashFunctions = map[HashFunctionName]HashFunction{
	HashFunctionIdentity:  Identity,
	HashFunctionFixed:     Fixed,
	HashFunctionKeccak256: Keccak256,
	HashFunctionSha3_256:  Sha3_256,
}

// HashFunctionFromName resolves a hash function by name, case-insensitively
func HashFunctionFromName(name string) (HashFunction, error) {
	hashFn, ok := hashFunctions[HashFunctionName(strings.ToUpper(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHashFunction, name)
	}
	return hashFn, nil
}

// SupportedHashFunctions lists every registered hash function name
func SupportedHashFunctions() []HashFunctionName {
	return []HashFunctionName{
		HashFunctionIdentity,
		HashFunctionFixed,
		HashFunctionKeccak256,
		HashFunctionSha3_256,
	}
}
