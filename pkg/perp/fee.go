package perp

import "math/big"

var feeDivisor = big.NewInt(100)

// ImbalanceFee returns the entry fee for a trade of the given size and
// direction. The fee is 1% of the trade size (truncated), charged only when
// the trade lands on the side that already carries strictly greater
// aggregate notional, i.e. when it deepens an existing imbalance. A
// balanced book, or a trade against the heavier side, pays nothing.
func ImbalanceFee(totalLong, totalShort, value *big.Int, long bool) *big.Int {
	if long && totalLong.Cmp(totalShort) > 0 {
		return new(big.Int).Quo(value, feeDivisor)
	}
	if !long && totalShort.Cmp(totalLong) > 0 {
		return new(big.Int).Quo(value, feeDivisor)
	}
	return new(big.Int)
}
