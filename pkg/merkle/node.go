package merkle

import (
	"fmt"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

// Node is one of NilNode, *LeafNode, *MiddleNode or *RootNode. The set is closed:
// the unexported marker keeps other packages from adding variants, and every
// consumer switches over exactly these four.
type Node interface {
	Hash() Hash
	isNode()
}

// PathNode is a node with two children (*MiddleNode or *RootNode)
type PathNode interface {
	Node
	Left() Node
	Right() Node
}

// NilNode stands in for an entirely empty virtual subtree
type NilNode struct{}

// Nil is the single NilNode value
var Nil = NilNode{}

var nilHash = Hash(make([]byte, 32))

// NilHash returns the fixed hash of the empty subtree (32 zero bytes under every hash function)
func NilHash() Hash {
	return nilHash.Clone()
}

func (NilNode) Hash() Hash { return nilHash }
func (NilNode) isNode()    {}

// LeafNode wraps one account balance of the snapshot
type LeafNode struct {
	data *types.AccountBalance
	hash Hash
}

func (n *LeafNode) Hash() Hash { return n.hash }
func (n *LeafNode) isNode()    {}

// Data returns a copy of the account balance held by the leaf
func (n *LeafNode) Data() *types.AccountBalance {
	return n.data.Copy()
}

// MiddleNode is an internal node below the root
type MiddleNode struct {
	left  Node
	right Node
	hash  Hash
}

func (n *MiddleNode) Hash() Hash  { return n.hash }
func (n *MiddleNode) Left() Node  { return n.left }
func (n *MiddleNode) Right() Node { return n.right }
func (n *MiddleNode) isNode()     {}

// RootNode is the top of the tree. Depth counts the combination levels between
// the leaf layer and the root.
type RootNode struct {
	left  Node
	right Node
	hash  Hash
	depth int
}

func (n *RootNode) Hash() Hash  { return n.hash }
func (n *RootNode) Left() Node  { return n.left }
func (n *RootNode) Right() Node { return n.right }
func (n *RootNode) Depth() int  { return n.depth }
func (n *RootNode) isNode()     {}

func newMiddleNode(left, right Node, hashFn HashFunction) *MiddleNode {
	return &MiddleNode{
		left:  left,
		right: right,
		hash:  hashFn.Combine(left.Hash(), right.Hash()),
	}
}

// NodesEqual compares two subtrees structurally, including leaf data
func NodesEqual(a, b Node) bool {
	switch x := a.(type) {
	case NilNode:
		_, ok := b.(NilNode)
		return ok
	case *LeafNode:
		y, ok := b.(*LeafNode)
		return ok && x.hash.Equal(y.hash) && x.data.Equal(y.data)
	case *MiddleNode:
		y, ok := b.(*MiddleNode)
		return ok && x.hash.Equal(y.hash) && NodesEqual(x.left, y.left) && NodesEqual(x.right, y.right)
	case *RootNode:
		y, ok := b.(*RootNode)
		return ok && x.depth == y.depth && x.hash.Equal(y.hash) &&
			NodesEqual(x.left, y.left) && NodesEqual(x.right, y.right)
	default:
		panic(fmt.Sprintf("merkle: unknown node type %T", a))
	}
}
