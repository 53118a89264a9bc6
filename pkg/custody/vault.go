// Package custody keeps settlement-token balances for traders and the
// engine's own custody account, and moves collateral between them. It
// implements perp.CollateralVault: transfers fail outright on insufficient
// balance rather than truncating.
package custody

import (
	"fmt"
	"math/big"
	"sync"
)

// CustodyAccount is the reserved identity holding engine custody: pulled
// collateral, withheld fees, and liquidation remainders.
const CustodyAccount = "$custody"

var (
	ErrInsufficientBalance = fmt.Errorf("insufficient balance")
	ErrInvalidAmount       = fmt.Errorf("invalid transfer amount")
)

// Vault is an in-memory account ledger for one settlement token.
type Vault struct {
	token    string
	balances map[string]*big.Int
	mu       sync.RWMutex
}

// NewVault creates an empty vault for the given settlement token.
func NewVault(token string) *Vault {
	return &Vault{
		token:    token,
		balances: make(map[string]*big.Int),
	}
}

// Token returns the settlement token this vault accounts for.
func (v *Vault) Token() string { return v.token }

// Mint credits freshly issued funds to an account. Host-side only; the
// engine never mints.
func (v *Vault) Mint(account string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(account, amount)
	return nil
}

// Balance returns the account's balance (zero for unknown accounts).
func (v *Vault) Balance(account string) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Pull moves amount from the trader's account into engine custody.
func (v *Vault) Pull(from string, amount *big.Int) error {
	return v.transfer(from, CustodyAccount, amount)
}

// Push pays amount out of engine custody to the given account. A zero
// amount is a no-op.
func (v *Vault) Push(to string, amount *big.Int) error {
	if amount != nil && amount.Sign() == 0 {
		return nil
	}
	return v.transfer(CustodyAccount, to, amount)
}

func (v *Vault) transfer(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s %s", ErrInsufficientBalance, from, v.balanceOf(from), amount, v.token)
	}
	b.Sub(b, amount)
	v.credit(to, amount)
	return nil
}

func (v *Vault) credit(account string, amount *big.Int) {
	if b, ok := v.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	v.balances[account] = new(big.Int).Set(amount)
}

func (v *Vault) balanceOf(account string) *big.Int {
	if b, ok := v.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

// Balances returns a copy of every account balance, for persistence.
func (v *Vault) Balances() map[string]*big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]*big.Int, len(v.balances))
	for account, b := range v.balances {
		out[account] = new(big.Int).Set(b)
	}
	return out
}

// SetBalances replaces the vault state, used when restoring a snapshot.
func (v *Vault) SetBalances(balances map[string]*big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = make(map[string]*big.Int, len(balances))
	for account, b := range balances {
		v.balances[account] = new(big.Int).Set(b)
	}
}
