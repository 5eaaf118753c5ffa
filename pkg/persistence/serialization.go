package persistence

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding: identical snapshots always produce identical bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("persistence: failed to create cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("persistence: failed to create cbor decoder: %v", err))
	}
}

// MarshalSnapshot serializes a snapshot to CBOR bytes
func MarshalSnapshot(s *types.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil Snapshot")
	}

	data, err := encMode.Marshal(NewSnapshotRecord(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Snapshot to CBOR: %w", err)
	}

	return data, nil
}

// UnmarshalSnapshot deserializes a snapshot from CBOR bytes
func UnmarshalSnapshot(data []byte) (*types.Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record SnapshotRecord
	if err := decMode.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CBOR to Snapshot: %w", err)
	}

	s, err := record.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("invalid stored Snapshot %s: %w", record.ID, err)
	}

	return s, nil
}
