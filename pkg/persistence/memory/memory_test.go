package memory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/persistence/persistencetest"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.RunSuite(t, func(t *testing.T) persistence.ISnapshotPersistence {
		return NewMemoryPersistence(zap.NewNop())
	})
}

func TestMemoryPersistence_ClosedErrors(t *testing.T) {
	mp := NewMemoryPersistence(zap.NewNop())
	require.NoError(t, mp.Close())

	assert.ErrorIs(t, mp.HealthCheck(), persistence.ErrClosed)
	assert.ErrorIs(t, mp.DeleteSnapshot("x"), persistence.ErrClosed)

	_, err := mp.FindByRoot(1, common.Address{}, nil)
	assert.ErrorIs(t, err, persistence.ErrClosed)
}
