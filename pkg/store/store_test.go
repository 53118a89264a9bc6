package store

import (
	"math/big"
	"testing"

	"github.com/luxfi/database/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/pkg/perp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbManager := manager.NewManager(t.TempDir(), nil)
	db, err := dbManager.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestLedgerRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Nothing saved yet.
	snap, err := s.LoadLedger()
	require.NoError(t, err)
	assert.Nil(t, snap)

	saved := &perp.LedgerSnapshot{
		Positions: map[string]*perp.Position{
			"alice": {Value: big.NewInt(1000), OpenPrice: big.NewInt(50000), ClosePrice: new(big.Int), Long: true},
		},
		TotalLong:         big.NewInt(1000),
		TotalShort:        new(big.Int),
		MarginRequirement: big.NewInt(300),
		History: []*perp.Position{
			{Value: big.NewInt(500), OpenPrice: big.NewInt(48000), ClosePrice: big.NewInt(49000), Long: false},
		},
	}
	require.NoError(t, s.SaveLedger(saved))

	snap, err = s.LoadLedger()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1000), snap.TotalLong.Int64())
	require.Contains(t, snap.Positions, "alice")
	assert.Equal(t, int64(50000), snap.Positions["alice"].OpenPrice.Int64())
	require.Len(t, snap.History, 1)
	assert.Equal(t, int64(49000), snap.History[0].ClosePrice.Int64())
}

func TestBalancesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	balances, err := s.LoadBalances()
	require.NoError(t, err)
	assert.Nil(t, balances)

	require.NoError(t, s.SaveBalances(map[string]*big.Int{
		"alice":    big.NewInt(750),
		"$custody": big.NewInt(250),
	}))

	balances, err = s.LoadBalances()
	require.NoError(t, err)
	assert.Equal(t, int64(750), balances["alice"].Int64())
	assert.Equal(t, int64(250), balances["$custody"].Int64())
}
