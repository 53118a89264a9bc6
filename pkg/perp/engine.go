package perp

import (
	"fmt"
	"math/big"
	"sync"
)

var liquidatorShare = big.NewInt(3)

// Engine orchestrates the trade lifecycle over a single Ledger. Operations
// are serialized by the engine mutex and are all-or-nothing: every fallible
// collaborator call happens before the first ledger mutation, so a failed
// oracle read, authorization, or transfer leaves positions, aggregates,
// and history exactly as they were.
type Engine struct {
	cfg    Config
	ledger *Ledger
	vault  CollateralVault
	oracle PriceOracle
	auth   Authorizer
	events EventSink

	mu sync.Mutex
}

// New creates an engine with an empty ledger. MarginRequirement defaults to
// DefaultMarginRequirement when zero. The event sink may be nil.
func New(cfg Config, vault CollateralVault, oracle PriceOracle, auth Authorizer, events EventSink) (*Engine, error) {
	if cfg.Leverage <= 0 {
		return nil, ErrBadLeverage
	}
	if cfg.MarginRequirement == 0 {
		cfg.MarginRequirement = DefaultMarginRequirement
	}
	return &Engine{
		cfg:    cfg,
		ledger: NewLedger(cfg.MarginRequirement),
		vault:  vault,
		oracle: oracle,
		auth:   auth,
		events: events,
	}, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// Open collects value of collateral from trader, charges the imbalance fee,
// and stores a new position at the current oracle price. Fails ErrZeroValue
// for non-positive size, ErrPositionOpen if the trader already has one, and
// ErrNoPrice if the oracle has never been set.
func (e *Engine) Open(trader string, value *big.Int, long bool) error {
	if err := e.auth.Require(trader); err != nil {
		return fmt.Errorf("authorize %s: %w", trader, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if value == nil || value.Sign() <= 0 {
		return ErrZeroValue
	}
	if _, ok := e.ledger.Position(trader); ok {
		return ErrPositionOpen
	}

	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return fmt.Errorf("oracle read: %w", err)
	}
	if price.Sign() <= 0 {
		return ErrNoPrice
	}

	fee := ImbalanceFee(e.ledger.totalLong, e.ledger.totalShort, value, long)
	remaining := new(big.Int).Sub(value, fee)

	// Last fallible step; the ledger mutation below cannot fail.
	if err := e.vault.Pull(trader, value); err != nil {
		return fmt.Errorf("collect collateral: %w", err)
	}

	e.ledger.add(trader, &Position{
		Value:      remaining,
		OpenPrice:  new(big.Int).Set(price),
		ClosePrice: new(big.Int),
		Long:       long,
	})

	e.publish(TopicOpen, OpenEvent{Trader: trader, Value: new(big.Int).Set(value), Long: long})
	return nil
}

// Close settles the trader's position at the current oracle price, archives
// it, releases its side's aggregate by the original value, and pays the
// settlement out. Fails ErrPositionNotOpen if there is nothing to close.
func (e *Engine) Close(trader string) (*big.Int, error) {
	if err := e.auth.Require(trader); err != nil {
		return nil, fmt.Errorf("authorize %s: %w", trader, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	position, ok := e.ledger.Position(trader)
	if !ok {
		return nil, ErrPositionNotOpen
	}

	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("oracle read: %w", err)
	}
	settlement := SettlementValue(position, price, e.cfg.Leverage)

	// Pay out before touching the ledger so a failed transfer aborts the
	// whole operation with no partial bookkeeping.
	if err := e.vault.Push(trader, settlement); err != nil {
		return nil, fmt.Errorf("pay settlement: %w", err)
	}

	e.ledger.retire(trader, price)
	return settlement, nil
}

// Liquidate force-closes target's position when its margin ratio has fallen
// below the requirement, paying the liquidator a third of the settlement
// value. The remainder is retained by custody as the liquidation penalty.
// Fails ErrPositionNotOpen without a position and ErrAboveMargin when the
// position is still adequately collateralized.
func (e *Engine) Liquidate(liquidator, target string) (*big.Int, error) {
	if err := e.auth.Require(liquidator); err != nil {
		return nil, fmt.Errorf("authorize %s: %w", liquidator, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	position, ok := e.ledger.Position(target)
	if !ok {
		return nil, ErrPositionNotOpen
	}

	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("oracle read: %w", err)
	}
	settlement := SettlementValue(position, price, e.cfg.Leverage)

	if !Liquidatable(settlement, position.Value, e.ledger.marginRequirement) {
		return nil, ErrAboveMargin
	}

	reward := new(big.Int).Quo(settlement, liquidatorShare)
	if reward.Sign() > 0 {
		if err := e.vault.Push(liquidator, reward); err != nil {
			return nil, fmt.Errorf("pay liquidator: %w", err)
		}
	}

	e.ledger.retire(target, price)

	e.publish(TopicLiquidate, LiquidateEvent{
		Trader:     target,
		Liquidator: liquidator,
		Settlement: settlement,
	})
	return reward, nil
}

// Settle returns the current settlement value of trader's position at the
// latest oracle price, or zero for a trader with no open position. Read
// only.
func (e *Engine) Settle(trader string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	position, ok := e.ledger.Position(trader)
	if !ok {
		return new(big.Int), nil
	}
	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("oracle read: %w", err)
	}
	return SettlementValue(position, price, e.cfg.Leverage), nil
}

// Position returns a copy of trader's open position, if any.
func (e *Engine) Position(trader string) (*Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ledger.Position(trader)
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Ledger exposes read access to the underlying ledger state under the
// engine lock via fn. fn must not retain the ledger.
func (e *Engine) Ledger(fn func(*Ledger)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.ledger)
}

func (e *Engine) publish(topic string, payload any) {
	if e.events != nil {
		e.events.Publish(topic, payload)
	}
}
