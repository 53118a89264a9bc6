package perp

import "math/big"

var basisPoints = big.NewInt(10000)

// MarginRatio expresses a position's settlement value in basis points of
// its original collateral, truncated. 10000 means fully collateralized.
func MarginRatio(settlement, value *big.Int) *big.Int {
	return new(big.Int).Quo(new(big.Int).Mul(settlement, basisPoints), value)
}

// Liquidatable reports whether a position with the given settlement value
// has fallen below the margin requirement. A ratio exactly at the
// requirement is still adequately collateralized.
func Liquidatable(settlement, value, requirement *big.Int) bool {
	return MarginRatio(settlement, value).Cmp(requirement) < 0
}
