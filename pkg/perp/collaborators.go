package perp

import "math/big"

// PriceOracle supplies the current reference price. It is read fresh on
// every open and settlement; the engine performs no staleness check of its
// own.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

// CollateralVault moves settlement-currency collateral between traders and
// engine custody. Both calls must fail outright on insufficient balance,
// never silently truncate. A zero-amount Push is a no-op.
type CollateralVault interface {
	Pull(from string, amount *big.Int) error
	Push(to string, amount *big.Int) error
}

// Authorizer checks that the acting principal may perform the operation.
// A failure aborts before any state is touched.
type Authorizer interface {
	Require(principal string) error
}

// EventSink receives best-effort notifications. Publish is never on the
// failure path and its errors are ignored by the engine.
type EventSink interface {
	Publish(topic string, payload any)
}

// Event topics.
const (
	TopicOpen      = "perp.open"
	TopicLiquidate = "perp.liquidate"
)

// OpenEvent is published after a position is opened.
type OpenEvent struct {
	Trader string   `json:"trader"`
	Value  *big.Int `json:"value"`
	Long   bool     `json:"long"`
}

// LiquidateEvent is published after a position is liquidated.
type LiquidateEvent struct {
	Trader     string   `json:"trader"`
	Liquidator string   `json:"liquidator"`
	Settlement *big.Int `json:"settlement"`
}
