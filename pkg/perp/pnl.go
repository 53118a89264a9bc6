package perp

import "math/big"

// priceMove is the direction-adjusted outcome of a price change: a single
// tagged value instead of parallel long/short branches, so both sides run
// through one settlement path.
type priceMove int

const (
	unchanged priceMove = iota
	gained
	lost
)

// move returns the outcome and its magnitude for the position at price.
func (p *Position) move(price *big.Int) (priceMove, *big.Int) {
	cmp := price.Cmp(p.OpenPrice)
	if cmp == 0 {
		return unchanged, new(big.Int)
	}
	diff := new(big.Int).Sub(price, p.OpenPrice)
	if p.Long == (cmp > 0) {
		return gained, diff.Abs(diff)
	}
	return lost, diff.Abs(diff)
}

// SettlementValue computes the position's current worth at the given price.
//
// The exposure multiplier is leverage*value/openPrice; the gain or loss is
// multiplied through before the single truncating division by openPrice:
//
//	settlement = value ± (move * leverage * value) / openPrice
//
// The operation order is load-bearing: truncating the multiplier before
// applying the move changes the result. A leveraged loss exceeding the
// stored value (loss*leverage > value) wipes the position out to exactly
// zero, never negative. OpenPrice must be nonzero; Open enforces that.
func SettlementValue(p *Position, price *big.Int, leverage int64) *big.Int {
	lev := big.NewInt(leverage)
	outcome, amount := p.move(price)

	switch outcome {
	case gained:
		exposure := new(big.Int).Mul(lev, p.Value)
		profit := new(big.Int).Quo(new(big.Int).Mul(amount, exposure), p.OpenPrice)
		return profit.Add(p.Value, profit)
	case lost:
		if new(big.Int).Mul(amount, lev).Cmp(p.Value) > 0 {
			return new(big.Int) // wiped out
		}
		exposure := new(big.Int).Mul(lev, p.Value)
		loss := new(big.Int).Quo(new(big.Int).Mul(amount, exposure), p.OpenPrice)
		return loss.Sub(p.Value, loss)
	default:
		return new(big.Int).Set(p.Value)
	}
}
