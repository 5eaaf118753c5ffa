package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

// PathSegment is one step of a Merkle path. IsLeft reports whether the sibling
// is the left child of the shared parent.
type PathSegment struct {
	SiblingHash Hash
	IsLeft      bool
}

// MerkleProof bundles a leaf with its path and the root it proves against
type MerkleProof struct {
	AccountBalance *types.AccountBalance
	Path           []PathSegment
	RootHash       Hash
	Depth          int
	HashFunction   HashFunctionName
}

// PathTo returns the path from the leaf of the given address up to the root,
// ordered leaf to root, or false if the address is not in the tree. The path
// always has Depth() segments.
func (t *MerkleTree) PathTo(address common.Address) ([]PathSegment, bool) {
	indexed, ok := t.leavesByAddress[address]
	if !ok {
		return nil, false
	}

	slot := t.virtualSize - len(t.leaves) + indexed.Index
	depth := t.root.depth
	path := make([]PathSegment, depth)

	var current Node = t.root
	for level := depth - 1; level >= 0; level-- {
		parent, ok := current.(PathNode)
		if !ok {
			panic(fmt.Sprintf("merkle: reached %T above leaf level while walking to slot %d", current, slot))
		}

		// Segments are filled from the back so the result reads leaf to root.
		if (slot>>level)&1 == 0 {
			path[level] = PathSegment{SiblingHash: parent.Right().Hash().Clone(), IsLeft: false}
			current = parent.Left()
		} else {
			path[level] = PathSegment{SiblingHash: parent.Left().Hash().Clone(), IsLeft: true}
			current = parent.Right()
		}
	}

	if leaf, ok := current.(*LeafNode); !ok || leaf != indexed.Leaf {
		panic(fmt.Sprintf("merkle: path for %s does not end at its leaf", address.Hex()))
	}

	return path, true
}

// ProofFor returns the full proof for an address, or false if it is absent
func (t *MerkleTree) ProofFor(address common.Address) (*MerkleProof, bool) {
	path, ok := t.PathTo(address)
	if !ok {
		return nil, false
	}

	return &MerkleProof{
		AccountBalance: t.leavesByAddress[address].Leaf.Data(),
		Path:           path,
		RootHash:       t.RootHash(),
		Depth:          t.root.depth,
		HashFunction:   t.hashFn.Name(),
	}, true
}

// Verify checks the proof with the given hash function
func (p *MerkleProof) Verify(hashFn HashFunction) bool {
	if p == nil || hashFn == nil || hashFn.Name() != p.HashFunction {
		return false
	}
	if len(p.Path) != p.Depth {
		return false
	}
	return VerifyPath(p.AccountBalance, p.Path, p.RootHash, hashFn)
}

// VerifyPath recomputes the root from a leaf and its path and compares it with
// expectedRoot. It needs no tree, which is exactly what an on-chain verifier does:
//
//	current = hashLeaf(abi.encode(address, balance))
//	for each segment: current = isLeft ? combine(sibling, current) : combine(current, sibling)
//
// An empty path is never valid: every tree combines at least once.
func VerifyPath(leaf *types.AccountBalance, path []PathSegment, expectedRoot Hash, hashFn HashFunction) bool {
	if hashFn == nil || len(path) == 0 {
		return false
	}

	encoded, err := util.EncodeAccountBalance(leaf)
	if err != nil {
		return false
	}

	current := hashFn.HashLeaf(encoded)
	for _, segment := range path {
		if segment.IsLeft {
			current = hashFn.Combine(segment.SiblingHash, current)
		} else {
			current = hashFn.Combine(current, segment.SiblingHash)
		}
	}

	return current.Equal(expectedRoot)
}
