package types

// AccountBalanceJSON is the wire form of an AccountBalance. Balances travel as
// decimal strings so uint256 values survive JSON number precision limits.
type AccountBalanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// PathSegmentJSON is the wire form of a single Merkle path step
type PathSegmentJSON struct {
	SiblingHash string `json:"sibling_hash"`
	IsLeft      bool   `json:"is_left"`
}

// CreateSnapshotRequest asks the server to scan the chain for holders of an asset
type CreateSnapshotRequest struct {
	Name                   string   `json:"name"`
	ChainID                uint64   `json:"chain_id"`
	AssetAddress           string   `json:"asset_address"`
	BlockNumber            uint64   `json:"block_number"`
	IgnoredHolderAddresses []string `json:"ignored_holder_addresses"`
	HashFunction           string   `json:"hash_function,omitempty"`
}

// CreateSnapshotFromBalancesRequest builds a snapshot from an explicit leaf list
type CreateSnapshotFromBalancesRequest struct {
	Name         string               `json:"name"`
	ChainID      uint64               `json:"chain_id"`
	AssetAddress string               `json:"asset_address"`
	BlockNumber  uint64               `json:"block_number"`
	HashFunction string               `json:"hash_function,omitempty"`
	Balances     []AccountBalanceJSON `json:"balances"`
}

// CreateSnapshotResponse returns the identifier of a submitted snapshot
type CreateSnapshotResponse struct {
	ID string `json:"id"`
}

// SnapshotResponse summarizes a snapshot without its leaves
type SnapshotResponse struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	ChainID                uint64   `json:"chain_id"`
	AssetAddress           string   `json:"asset_address"`
	BlockNumber            uint64   `json:"block_number"`
	IgnoredHolderAddresses []string `json:"ignored_holder_addresses"`
	Status                 string   `json:"status"`
	FailureCause           string   `json:"failure_cause,omitempty"`
	HashFunction           string   `json:"hash_function"`
	RootHash               string   `json:"root_hash,omitempty"`
	Depth                  int      `json:"depth,omitempty"`
	TotalAssetAmount       string   `json:"total_asset_amount,omitempty"`
	LeafCount              int      `json:"leaf_count"`
	DuplicateOf            string   `json:"duplicate_of,omitempty"`
	CreatedAt              int64    `json:"created_at"`
	CompletedAt            int64    `json:"completed_at,omitempty"`
}

// SnapshotsResponse lists snapshot summaries
type SnapshotsResponse struct {
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// ProofResponse carries everything a claimant needs to prove its balance
type ProofResponse struct {
	SnapshotID   string            `json:"snapshot_id"`
	Address      string            `json:"address"`
	Balance      string            `json:"balance"`
	RootHash     string            `json:"root_hash"`
	Depth        int               `json:"depth"`
	HashFunction string            `json:"hash_fn"`
	Path         []PathSegmentJSON `json:"path"`
	// Proof is the bare list of sibling hashes, leaf to root
	Proof []string `json:"proof"`
}

// VerifyRequest asks the server to recompute a root from a leaf and its path
type VerifyRequest struct {
	Address      string            `json:"address"`
	Balance      string            `json:"balance"`
	RootHash     string            `json:"root_hash"`
	HashFunction string            `json:"hash_fn"`
	Path         []PathSegmentJSON `json:"path"`
}

// VerifyResponse reports whether the recomputed root matched
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ErrorResponse is returned by the API on failure
type ErrorResponse struct {
	Error string `json:"error"`
}
