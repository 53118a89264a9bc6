// Package perp implements the position accounting core for a single-asset
// perpetual: imbalance fees, leveraged settlement, margin evaluation, and
// the open/close/liquidate lifecycle. All amounts are integers in the
// smallest unit of the settlement currency.
package perp

import (
	"fmt"
	"math/big"
)

// Position is a trader's single open leveraged exposure.
type Position struct {
	Value      *big.Int `json:"value"`      // collateral net of entry fee
	OpenPrice  *big.Int `json:"openPrice"`  // oracle price at open
	ClosePrice *big.Int `json:"closePrice"` // set when archived, zero while open
	Long       bool     `json:"long"`
}

// clone returns a deep copy, used when archiving to history.
func (p *Position) clone() *Position {
	return &Position{
		Value:      new(big.Int).Set(p.Value),
		OpenPrice:  new(big.Int).Set(p.OpenPrice),
		ClosePrice: new(big.Int).Set(p.ClosePrice),
		Long:       p.Long,
	}
}

// Errors
var (
	ErrPositionOpen    = fmt.Errorf("position already open")
	ErrPositionNotOpen = fmt.Errorf("position not open")
	ErrZeroValue       = fmt.Errorf("trade value must be positive")
	ErrAboveMargin     = fmt.Errorf("position above margin requirement")
	ErrNoPrice         = fmt.Errorf("no oracle price available")
	ErrBadLeverage     = fmt.Errorf("leverage must be positive")
)

// DefaultMarginRequirement is the liquidation threshold in basis points of
// original collateral.
const DefaultMarginRequirement = 300

// Config holds the one-time engine parameters.
type Config struct {
	Asset             string // underlying asset identifier, e.g. "BTC"
	Leverage          int64  // fixed multiplier applied to every position
	SettlementToken   string // settlement currency ledger reference
	Oracle            string // initial trusted oracle identity
	MarginRequirement int64  // basis points; 0 means DefaultMarginRequirement
}
