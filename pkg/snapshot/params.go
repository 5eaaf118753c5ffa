package snapshot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

var (
	ErrInvalidRequest   = errors.New("invalid snapshot request")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotNotReady = errors.New("snapshot is not successfully completed")
	ErrAddressNotFound  = errors.New("address is not part of the snapshot")
	ErrRootMismatch     = errors.New("rebuilt tree root does not match stored root")
	ErrBlockNotReached  = errors.New("snapshot block has not been reached by the chain yet")
)

// maxNameLength bounds snapshot names
const maxNameLength = 256

// CreateSnapshotParams describes a snapshot of one asset at one block
type CreateSnapshotParams struct {
	Name                   string
	ChainID                uint64
	AssetAddress           common.Address
	BlockNumber            uint64
	IgnoredHolderAddresses []common.Address
	HashFunction           string
}

// ParamsFromRequest parses the wire form of a chain snapshot request
func ParamsFromRequest(req *types.CreateSnapshotRequest) (*CreateSnapshotParams, error) {
	var allErrs field.ErrorList

	asset, err := util.ParseAddress(req.AssetAddress)
	if err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("asset_address"), req.AssetAddress, "must be a 0x-prefixed 20 byte hex address"))
	}

	ignored := make([]common.Address, 0, len(req.IgnoredHolderAddresses))
	for i, raw := range req.IgnoredHolderAddresses {
		addr, err := util.ParseAddress(raw)
		if err != nil {
			allErrs = append(allErrs, field.Invalid(field.NewPath("ignored_holder_addresses").Index(i), raw, "must be a 0x-prefixed 20 byte hex address"))
			continue
		}
		ignored = append(ignored, addr)
	}

	if len(allErrs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, allErrs.ToAggregate())
	}

	return &CreateSnapshotParams{
		Name:                   req.Name,
		ChainID:                req.ChainID,
		AssetAddress:           asset,
		BlockNumber:            req.BlockNumber,
		IgnoredHolderAddresses: ignored,
		HashFunction:           req.HashFunction,
	}, nil
}

// ParamsFromBalancesRequest parses the wire form of an explicit balance list request
func ParamsFromBalancesRequest(req *types.CreateSnapshotFromBalancesRequest) (*CreateSnapshotParams, []*types.AccountBalance, error) {
	var allErrs field.ErrorList

	asset, err := util.ParseAddress(req.AssetAddress)
	if err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("asset_address"), req.AssetAddress, "must be a 0x-prefixed 20 byte hex address"))
	}

	balances := make([]*types.AccountBalance, 0, len(req.Balances))
	for i, raw := range req.Balances {
		ab, err := merkle.AccountBalanceFromJSON(&raw)
		if err != nil {
			allErrs = append(allErrs, field.Invalid(field.NewPath("balances").Index(i), raw, err.Error()))
			continue
		}
		balances = append(balances, ab)
	}
	if len(req.Balances) == 0 {
		allErrs = append(allErrs, field.Required(field.NewPath("balances"), "at least one balance is required"))
	}

	if len(allErrs) > 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, allErrs.ToAggregate())
	}

	return &CreateSnapshotParams{
		Name:         req.Name,
		ChainID:      req.ChainID,
		AssetAddress: asset,
		BlockNumber:  req.BlockNumber,
		HashFunction: req.HashFunction,
	}, balances, nil
}

// validate checks the parameters against the chain the service serves and
// resolves the hash function, defaulting to defaultHashFn
func (p *CreateSnapshotParams) validate(chainId uint64, defaultHashFn merkle.HashFunction) (merkle.HashFunction, error) {
	var allErrs field.ErrorList

	name := strings.TrimSpace(p.Name)
	if name == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("name"), "name is required"))
	} else if len(name) > maxNameLength {
		allErrs = append(allErrs, field.TooLong(field.NewPath("name"), name, maxNameLength))
	}

	if chainId != 0 && p.ChainID != chainId {
		allErrs = append(allErrs, field.NotSupported(field.NewPath("chain_id"), p.ChainID, []string{fmt.Sprintf("%d", chainId)}))
	}

	if p.AssetAddress == (common.Address{}) {
		allErrs = append(allErrs, field.Required(field.NewPath("asset_address"), "asset address must not be the zero address"))
	}

	hashFn := defaultHashFn
	if p.HashFunction != "" {
		resolved, err := merkle.HashFunctionFromName(p.HashFunction)
		if err != nil {
			supported := make([]string, 0)
			for _, supportedName := range merkle.SupportedHashFunctions() {
				supported = append(supported, supportedName.String())
			}
			allErrs = append(allErrs, field.NotSupported(field.NewPath("hash_function"), p.HashFunction, supported))
		} else {
			hashFn = resolved
		}
	}

	if len(allErrs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, allErrs.ToAggregate())
	}

	return hashFn, nil
}

// ToResponse converts a snapshot to its API summary
func ToResponse(s *types.Snapshot) *types.SnapshotResponse {
	resp := &types.SnapshotResponse{
		ID:                     s.ID,
		Name:                   s.Name,
		ChainID:                s.ChainID,
		AssetAddress:           s.AssetAddress.Hex(),
		BlockNumber:            s.BlockNumber,
		IgnoredHolderAddresses: make([]string, len(s.IgnoredHolderAddresses)),
		Status:                 string(s.Status),
		FailureCause:           string(s.FailureCause),
		HashFunction:           s.HashFunction,
		Depth:                  s.Depth,
		LeafCount:              len(s.Balances),
		DuplicateOf:            s.DuplicateOf,
		CreatedAt:              s.CreatedAt,
		CompletedAt:            s.CompletedAt,
	}

	for i, addr := range s.IgnoredHolderAddresses {
		resp.IgnoredHolderAddresses[i] = addr.Hex()
	}
	if len(s.RootHash) > 0 {
		resp.RootHash = merkle.Hash(s.RootHash).Hex()
	}
	if s.TotalAssetAmount != nil {
		resp.TotalAssetAmount = s.TotalAssetAmount.String()
	}

	return resp
}
