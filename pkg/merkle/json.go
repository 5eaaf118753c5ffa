package merkle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

// TreeView is the JSON representation of a whole tree, detailed enough for a
// client to audit every hash without trusting the server
type TreeView struct {
	Depth  int       `json:"depth"`
	Hash   Hash      `json:"hash"`
	HashFn string    `json:"hash_fn"`
	Left   *NodeView `json:"left"`
	Right  *NodeView `json:"right"`
}

// NodeView is one node of a TreeView. Nil nodes carry only their hash, leaves
// carry Data, internal nodes carry both children.
type NodeView struct {
	Hash  Hash                      `json:"hash"`
	Data  *types.AccountBalanceJSON `json:"data,omitempty"`
	Left  *NodeView                 `json:"left,omitempty"`
	Right *NodeView                 `json:"right,omitempty"`
}

// View converts the tree to its JSON representation
func (t *MerkleTree) View() *TreeView {
	return &TreeView{
		Depth:  t.root.depth,
		Hash:   t.root.hash.Clone(),
		HashFn: t.hashFn.Name().String(),
		Left:   nodeView(t.root.left),
		Right:  nodeView(t.root.right),
	}
}

// MarshalJSON encodes the tree as a TreeView
func (t *MerkleTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.View())
}

func nodeView(n Node) *NodeView {
	switch node := n.(type) {
	case NilNode:
		return &NodeView{Hash: node.Hash().Clone()}
	case *LeafNode:
		return &NodeView{
			Hash: node.hash.Clone(),
			Data: AccountBalanceToJSON(node.data),
		}
	case *MiddleNode:
		return &NodeView{
			Hash:  node.hash.Clone(),
			Left:  nodeView(node.left),
			Right: nodeView(node.right),
		}
	case *RootNode:
		panic("merkle: root node below the root")
	default:
		panic(fmt.Sprintf("merkle: unknown node type %T", n))
	}
}

// AuditTreeView recomputes every hash in a TreeView with hashFn, checks that all
// leaves sit exactly Depth levels below the root, then rebuilds the tree from
// the leaves and requires the same root. It returns the leaves on success.
func AuditTreeView(view *TreeView, hashFn HashFunction) ([]*types.AccountBalance, error) {
	if view == nil {
		return nil, fmt.Errorf("tree view is nil")
	}
	if hashFn == nil {
		return nil, ErrNilHashFunction
	}
	if !strings.EqualFold(view.HashFn, hashFn.Name().String()) {
		return nil, fmt.Errorf("tree was built with %s, auditing with %s", view.HashFn, hashFn.Name())
	}
	if view.Depth < 1 {
		return nil, fmt.Errorf("invalid tree depth %d", view.Depth)
	}
	if view.Left == nil || view.Right == nil {
		return nil, fmt.Errorf("root must have two children")
	}

	auditor := &viewAuditor{hashFn: hashFn, depth: view.Depth}
	left, err := auditor.audit(view.Left, 1, "root.left")
	if err != nil {
		return nil, err
	}
	right, err := auditor.audit(view.Right, 1, "root.right")
	if err != nil {
		return nil, err
	}

	if !hashFn.Combine(left, right).Equal(view.Hash) {
		return nil, fmt.Errorf("root hash mismatch: got %s", view.Hash.Hex())
	}
	if len(auditor.leaves) == 0 {
		return nil, ErrEmptyInput
	}

	rebuilt, err := NewMerkleTree(auditor.leaves, hashFn)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild tree from audited leaves: %w", err)
	}
	if !rebuilt.RootHash().Equal(view.Hash) || rebuilt.Depth() != view.Depth {
		return nil, fmt.Errorf("tree is not in canonical shape: rebuilt root %s at depth %d",
			rebuilt.RootHash().Hex(), rebuilt.Depth())
	}

	return auditor.leaves, nil
}

type viewAuditor struct {
	hashFn HashFunction
	depth  int
	leaves []*types.AccountBalance
}

func (a *viewAuditor) audit(n *NodeView, level int, where string) (Hash, error) {
	if n == nil {
		return nil, fmt.Errorf("%s: missing node", where)
	}

	switch {
	case n.Data != nil:
		if n.Left != nil || n.Right != nil {
			return nil, fmt.Errorf("%s: leaf must not have children", where)
		}
		if level != a.depth {
			return nil, fmt.Errorf("%s: leaf at level %d, expected %d", where, level, a.depth)
		}
		ab, err := AccountBalanceFromJSON(n.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		encoded, err := util.EncodeAccountBalance(ab)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		if !a.hashFn.HashLeaf(encoded).Equal(n.Hash) {
			return nil, fmt.Errorf("%s: leaf hash mismatch for %s", where, ab.Address.Hex())
		}
		a.leaves = append(a.leaves, ab)
		return n.Hash, nil

	case n.Left == nil && n.Right == nil:
		if !n.Hash.Equal(nilHash) {
			return nil, fmt.Errorf("%s: empty node with non-nil hash %s", where, n.Hash.Hex())
		}
		return n.Hash, nil

	case n.Left != nil && n.Right != nil:
		if level >= a.depth {
			return nil, fmt.Errorf("%s: internal node at leaf level", where)
		}
		left, err := a.audit(n.Left, level+1, where+".left")
		if err != nil {
			return nil, err
		}
		right, err := a.audit(n.Right, level+1, where+".right")
		if err != nil {
			return nil, err
		}
		if !a.hashFn.Combine(left, right).Equal(n.Hash) {
			return nil, fmt.Errorf("%s: hash mismatch", where)
		}
		return n.Hash, nil

	default:
		return nil, fmt.Errorf("%s: internal node must have two children", where)
	}
}

// AccountBalanceToJSON converts an account balance to its wire form
func AccountBalanceToJSON(ab *types.AccountBalance) *types.AccountBalanceJSON {
	return &types.AccountBalanceJSON{
		Address: ab.Address.Hex(),
		Balance: ab.Balance.String(),
	}
}

// AccountBalanceFromJSON parses the wire form of an account balance
func AccountBalanceFromJSON(j *types.AccountBalanceJSON) (*types.AccountBalance, error) {
	if j == nil {
		return nil, fmt.Errorf("account balance is nil")
	}
	address, err := util.ParseAddress(j.Address)
	if err != nil {
		return nil, err
	}
	balance, err := util.ParseBalance(j.Balance)
	if err != nil {
		return nil, err
	}
	return types.NewAccountBalance(address, balance), nil
}

// PathToJSON converts a path to its wire form
func PathToJSON(path []PathSegment) []types.PathSegmentJSON {
	out := make([]types.PathSegmentJSON, len(path))
	for i, segment := range path {
		out[i] = types.PathSegmentJSON{
			SiblingHash: segment.SiblingHash.Hex(),
			IsLeft:      segment.IsLeft,
		}
	}
	return out
}

// PathFromJSON parses the wire form of a path
func PathFromJSON(path []types.PathSegmentJSON) ([]PathSegment, error) {
	out := make([]PathSegment, len(path))
	for i, segment := range path {
		hash, err := HashFromHex(segment.SiblingHash)
		if err != nil {
			return nil, fmt.Errorf("path segment %d: %w", i, err)
		}
		out[i] = PathSegment{SiblingHash: hash, IsLeft: segment.IsLeft}
	}
	return out, nil
}

// ProofToResponse converts a proof to the API response shape
func ProofToResponse(snapshotID string, proof *MerkleProof) *types.ProofResponse {
	siblings := make([]string, len(proof.Path))
	for i, segment := range proof.Path {
		siblings[i] = segment.SiblingHash.Hex()
	}

	return &types.ProofResponse{
		SnapshotID:   snapshotID,
		Address:      proof.AccountBalance.Address.Hex(),
		Balance:      proof.AccountBalance.Balance.String(),
		RootHash:     proof.RootHash.Hex(),
		Depth:        proof.Depth,
		HashFunction: proof.HashFunction.String(),
		Path:         PathToJSON(proof.Path),
		Proof:        siblings,
	}
}

// ProofFromResponse parses an API proof response back into a MerkleProof
func ProofFromResponse(resp *types.ProofResponse) (*MerkleProof, error) {
	if resp == nil {
		return nil, fmt.Errorf("proof response is nil")
	}
	ab, err := AccountBalanceFromJSON(&types.AccountBalanceJSON{Address: resp.Address, Balance: resp.Balance})
	if err != nil {
		return nil, err
	}
	path, err := PathFromJSON(resp.Path)
	if err != nil {
		return nil, err
	}
	root, err := HashFromHex(resp.RootHash)
	if err != nil {
		return nil, err
	}
	hashFn, err := HashFunctionFromName(resp.HashFunction)
	if err != nil {
		return nil, err
	}

	return &MerkleProof{
		AccountBalance: ab,
		Path:           path,
		RootHash:       root,
		Depth:          resp.Depth,
		HashFunction:   hashFn.Name(),
	}, nil
}
