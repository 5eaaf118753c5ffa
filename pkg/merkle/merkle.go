package merkle

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

// MerkleTree is an immutable binary Merkle tree over account balances.
//
// Leaves are ordered ascending by hash and placed into the highest N of S virtual
// slots, S being the smallest power of two >= N (at least 2). Subtrees that cover
// only empty slots collapse to a single Nil node. A tree is safe for concurrent
// use once NewMerkleTree returns.
type MerkleTree struct {
	root   *RootNode
	hashFn HashFunction

	// leaves in canonical (ascending hash) order
	leaves []*LeafNode

	leavesByHash    map[string]IndexedLeaf
	leavesByAddress map[common.Address]IndexedLeaf

	// virtualSize is S, the number of virtual leaf slots
	virtualSize int
}

// IndexedLeaf is a leaf together with its position in canonical order
type IndexedLeaf struct {
	Index int
	Leaf  *LeafNode
}

// NewMerkleTree builds a tree from an unordered list of account balances.
// The input order does not matter. Construction is all-or-nothing: any empty
// input, invalid entry or collision returns an error and no tree.
func NewMerkleTree(balances []*types.AccountBalance, hashFn HashFunction) (*MerkleTree, error) {
	if hashFn == nil {
		return nil, ErrNilHashFunction
	}
	if len(balances) == 0 {
		return nil, ErrEmptyInput
	}

	leaves, err := hashLeaves(balances, hashFn)
	if err != nil {
		return nil, err
	}

	if err := checkCollisions(leaves); err != nil {
		return nil, err
	}

	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].hash.Compare(leaves[j].hash) < 0
	})

	virtualSize := virtualSizeFor(len(leaves))
	builder := &treeBuilder{
		leaves: leaves,
		offset: virtualSize - len(leaves),
		hashFn: hashFn,
	}

	half := virtualSize / 2
	left := builder.build(0, half)
	right := builder.build(half, virtualSize)

	tree := &MerkleTree{
		root: &RootNode{
			left:  left,
			right: right,
			hash:  hashFn.Combine(left.Hash(), right.Hash()),
			depth: bits.TrailingZeros(uint(virtualSize)),
		},
		hashFn:      hashFn,
		leaves:      leaves,
		virtualSize: virtualSize,
	}
	tree.buildIndices()

	return tree, nil
}

// hashLeaves copies every balance and computes its leaf hash
func hashLeaves(balances []*types.AccountBalance, hashFn HashFunction) ([]*LeafNode, error) {
	leaves := make([]*LeafNode, len(balances))
	for i, balance := range balances {
		encoded, err := util.EncodeAccountBalance(balance)
		if err != nil {
			return nil, fmt.Errorf("%w at position %d: %v", ErrInvalidLeaf, i, err)
		}
		leaves[i] = &LeafNode{
			data: balance.Copy(),
			hash: hashFn.HashLeaf(encoded),
		}
	}
	return leaves, nil
}

// checkCollisions rejects duplicate addresses first, then duplicate leaf hashes.
// Leaves are still in input order, so the reported pair is the first one found.
func checkCollisions(leaves []*LeafNode) error {
	byAddress := make(map[common.Address]struct{}, len(leaves))
	for _, leaf := range leaves {
		if _, exists := byAddress[leaf.data.Address]; exists {
			return &DuplicateKeyError{Address: leaf.data.Address}
		}
		byAddress[leaf.data.Address] = struct{}{}
	}

	byHash := make(map[string]*LeafNode, len(leaves))
	for _, leaf := range leaves {
		if other, exists := byHash[string(leaf.hash)]; exists {
			return &DuplicateHashError{
				Hash:   leaf.hash.Clone(),
				First:  other.data.Address,
				Second: leaf.data.Address,
			}
		}
		byHash[string(leaf.hash)] = leaf
	}
	return nil
}

// virtualSizeFor returns the smallest power of two >= n, never less than 2 so
// that a single leaf is still combined with Nil once
func virtualSizeFor(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}

type treeBuilder struct {
	leaves []*LeafNode
	offset int // first virtual slot holding a real leaf
	hashFn HashFunction
}

// build returns the subtree over virtual slots [lo, hi); hi-lo is a power of two
func (b *treeBuilder) build(lo, hi int) Node {
	if hi <= b.offset {
		return Nil
	}
	if hi-lo == 1 {
		return b.leaves[lo-b.offset]
	}

	mid := lo + (hi-lo)/2
	return newMiddleNode(b.build(lo, mid), b.build(mid, hi), b.hashFn)
}

func (t *MerkleTree) buildIndices() {
	t.leavesByHash = make(map[string]IndexedLeaf, len(t.leaves))
	t.leavesByAddress = make(map[common.Address]IndexedLeaf, len(t.leaves))

	for i, leaf := range t.leaves {
		indexed := IndexedLeaf{Index: i, Leaf: leaf}
		t.leavesByHash[string(leaf.hash)] = indexed
		t.leavesByAddress[leaf.data.Address] = indexed
	}
}

// Root returns the root node
func (t *MerkleTree) Root() *RootNode {
	return t.root
}

// RootHash returns a copy of the root hash
func (t *MerkleTree) RootHash() Hash {
	return t.root.hash.Clone()
}

// Depth returns the number of levels between the leaves and the root
func (t *MerkleTree) Depth() int {
	return t.root.depth
}

// HashFunction returns the hash function the tree was built with
func (t *MerkleTree) HashFunction() HashFunction {
	return t.hashFn
}

// LeafCount returns the number of real leaves
func (t *MerkleTree) LeafCount() int {
	return len(t.leaves)
}

// Leaves returns the leaves in canonical order
func (t *MerkleTree) Leaves() []*LeafNode {
	out := make([]*LeafNode, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// AccountBalances returns copies of all leaf data in canonical order
func (t *MerkleTree) AccountBalances() []*types.AccountBalance {
	out := make([]*types.AccountBalance, len(t.leaves))
	for i, leaf := range t.leaves {
		out[i] = leaf.Data()
	}
	return out
}

// LeafByHash looks a leaf up by its hash
func (t *MerkleTree) LeafByHash(hash Hash) (IndexedLeaf, bool) {
	leaf, ok := t.leavesByHash[string(hash)]
	return leaf, ok
}

// LeafByAddress looks a leaf up by its address
func (t *MerkleTree) LeafByAddress(address common.Address) (IndexedLeaf, bool) {
	leaf, ok := t.leavesByAddress[address]
	return leaf, ok
}

// Contains reports whether the address is a leaf of the tree
func (t *MerkleTree) Contains(address common.Address) bool {
	_, ok := t.leavesByAddress[address]
	return ok
}

// Equal reports whether both trees have identical structure and hashes
func (t *MerkleTree) Equal(other *MerkleTree) bool {
	if t == nil || other == nil {
		return t == other
	}
	return NodesEqual(t.root, other.root)
}
