package perp

import (
	"fmt"
	"math/big"
)

// LedgerSnapshot is a serializable copy of ledger state, used by hosts that
// persist the ledger across restarts. The core never writes it anywhere
// itself.
type LedgerSnapshot struct {
	Positions         map[string]*Position `json:"positions"`
	TotalLong         *big.Int             `json:"totalLong"`
	TotalShort        *big.Int             `json:"totalShort"`
	MarginRequirement *big.Int             `json:"marginRequirement"`
	History           []*Position          `json:"history"`
}

// Snapshot captures the full ledger state under the engine lock.
func (e *Engine) Snapshot() *LedgerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.ledger
	snap := &LedgerSnapshot{
		Positions:         make(map[string]*Position, len(l.positions)),
		TotalLong:         new(big.Int).Set(l.totalLong),
		TotalShort:        new(big.Int).Set(l.totalShort),
		MarginRequirement: new(big.Int).Set(l.marginRequirement),
		History:           make([]*Position, len(l.history)),
	}
	for trader, p := range l.positions {
		snap.Positions[trader] = p.clone()
	}
	for i, p := range l.history {
		snap.History[i] = p.clone()
	}
	return snap
}

// Restore replaces the ledger state with the snapshot's after verifying the
// aggregate invariant: each side's total must equal the sum of stored
// values of its open positions.
func (e *Engine) Restore(snap *LedgerSnapshot) error {
	long, short := new(big.Int), new(big.Int)
	for _, p := range snap.Positions {
		if p.Long {
			long.Add(long, p.Value)
		} else {
			short.Add(short, p.Value)
		}
	}
	if long.Cmp(snap.TotalLong) != 0 || short.Cmp(snap.TotalShort) != 0 {
		return fmt.Errorf("snapshot aggregates out of sync: long %s/%s short %s/%s",
			long, snap.TotalLong, short, snap.TotalShort)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	l := NewLedger(0)
	l.totalLong.Set(snap.TotalLong)
	l.totalShort.Set(snap.TotalShort)
	l.marginRequirement.Set(snap.MarginRequirement)
	for trader, p := range snap.Positions {
		l.positions[trader] = p.clone()
	}
	l.history = make([]*Position, len(snap.History))
	for i, p := range snap.History {
		l.history[i] = p.clone()
	}
	e.ledger = l
	return nil
}
