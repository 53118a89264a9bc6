package perp

import "math/big"

// Ledger owns the open-position map, the per-side aggregate notionals, and
// the append-only archive of closed trades. It is a plain state object:
// every mutation happens through the engine holding it, and the aggregates
// move exactly twice per position life, both times by the position's
// original stored value.
type Ledger struct {
	positions         map[string]*Position
	totalLong         *big.Int
	totalShort        *big.Int
	marginRequirement *big.Int
	history           []*Position
}

// NewLedger creates an empty ledger with the given liquidation threshold in
// basis points.
func NewLedger(marginRequirementBps int64) *Ledger {
	return &Ledger{
		positions:         make(map[string]*Position),
		totalLong:         new(big.Int),
		totalShort:        new(big.Int),
		marginRequirement: big.NewInt(marginRequirementBps),
	}
}

// Position returns the open position for trader, if any.
func (l *Ledger) Position(trader string) (*Position, bool) {
	p, ok := l.positions[trader]
	return p, ok
}

// add stores a new position and credits its side's aggregate by the stored
// value. Callers guarantee the trader has no open position.
func (l *Ledger) add(trader string, p *Position) {
	if p.Long {
		l.totalLong.Add(l.totalLong, p.Value)
	} else {
		l.totalShort.Add(l.totalShort, p.Value)
	}
	l.positions[trader] = p
}

// retire archives the trader's position with the given close price, debits
// its side's aggregate by the original value, and removes it from the open
// map. History grows by exactly one record per call, in call order.
func (l *Ledger) retire(trader string, closePrice *big.Int) *Position {
	p := l.positions[trader]
	archived := p.clone()
	archived.ClosePrice = new(big.Int).Set(closePrice)
	l.history = append(l.history, archived)

	if p.Long {
		l.totalLong.Sub(l.totalLong, p.Value)
	} else {
		l.totalShort.Sub(l.totalShort, p.Value)
	}
	delete(l.positions, trader)
	return p
}

// TotalLong returns the aggregate notional of open long positions.
func (l *Ledger) TotalLong() *big.Int { return new(big.Int).Set(l.totalLong) }

// TotalShort returns the aggregate notional of open short positions.
func (l *Ledger) TotalShort() *big.Int { return new(big.Int).Set(l.totalShort) }

// MarginRequirement returns the liquidation threshold in basis points.
func (l *Ledger) MarginRequirement() *big.Int { return new(big.Int).Set(l.marginRequirement) }

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int { return len(l.positions) }

// History returns the archived trades, oldest first. The returned slice
// shares records with the ledger; callers must not mutate them.
func (l *Ledger) History() []*Position {
	out := make([]*Position, len(l.history))
	copy(out, l.history)
	return out
}
