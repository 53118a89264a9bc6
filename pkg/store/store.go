// Package store persists engine state across restarts: the ledger snapshot
// and the custody balances, as JSON blobs in a luxfi/database keyed store.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/database"

	"github.com/luxfi/perps/pkg/perp"
)

var (
	ledgerKey   = []byte("perps/ledger")
	balancesKey = []byte("perps/balances")
)

// Store wraps a database with the engine's two persistence records.
type Store struct {
	db database.Database
}

// New creates a store over an open database. The store does not own the
// database lifecycle; callers close it.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// SaveLedger writes the ledger snapshot.
func (s *Store) SaveLedger(snap *perp.LedgerSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	return s.db.Put(ledgerKey, raw)
}

// LoadLedger reads the ledger snapshot, returning nil when none was ever
// saved.
func (s *Store) LoadLedger() (*perp.LedgerSnapshot, error) {
	raw, err := s.db.Get(ledgerKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	var snap perp.LedgerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	return &snap, nil
}

// SaveBalances writes the custody balance table.
func (s *Store) SaveBalances(balances map[string]*big.Int) error {
	raw, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("encode balances: %w", err)
	}
	return s.db.Put(balancesKey, raw)
}

// LoadBalances reads the custody balance table, returning nil when none
// was ever saved.
func (s *Store) LoadBalances() (map[string]*big.Int, error) {
	raw, err := s.db.Get(balancesKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	balances := make(map[string]*big.Int)
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return balances, nil
}
