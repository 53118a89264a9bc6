// Package oracle provides a trusted-submitter price oracle for a single
// asset. Trusted identities push integer prices in; readers get the median
// of the fresh submissions.
package oracle

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"
)

var (
	ErrUntrustedSubmitter = fmt.Errorf("untrusted oracle submitter")
	ErrInvalidPrice       = fmt.Errorf("price must be positive")
	ErrNoFreshPrice       = fmt.Errorf("no fresh oracle price")
)

type submission struct {
	price *big.Int
	at    time.Time
}

// Oracle aggregates prices from an allowlisted set of submitters. It
// implements perp.PriceOracle.
type Oracle struct {
	asset      string
	staleAfter time.Duration // 0 disables staleness checks

	trusted     map[string]bool
	submissions map[string]submission

	now func() time.Time
	mu  sync.RWMutex
}

// New creates an oracle for asset trusting the given submitter identities.
// staleAfter bounds how old a submission may be before it is ignored; zero
// means submissions never expire.
func New(asset string, staleAfter time.Duration, trusted ...string) *Oracle {
	o := &Oracle{
		asset:       asset,
		staleAfter:  staleAfter,
		trusted:     make(map[string]bool, len(trusted)),
		submissions: make(map[string]submission),
		now:         time.Now,
	}
	for _, id := range trusted {
		o.trusted[id] = true
	}
	return o
}

// Asset returns the asset identifier this oracle prices.
func (o *Oracle) Asset() string { return o.asset }

// Trust adds a submitter to the allowlist.
func (o *Oracle) Trust(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trusted[id] = true
}

// Revoke removes a submitter and drops its outstanding submission.
func (o *Oracle) Revoke(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.trusted, id)
	delete(o.submissions, id)
}

// Submit records a price from a trusted submitter.
func (o *Oracle) Submit(submitter string, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.trusted[submitter] {
		return fmt.Errorf("%w: %s", ErrUntrustedSubmitter, submitter)
	}
	o.submissions[submitter] = submission{price: new(big.Int).Set(price), at: o.now()}
	return nil
}

// CurrentPrice returns the median over fresh submissions. With an even
// count the two middle prices are averaged (truncated).
func (o *Oracle) CurrentPrice() (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	now := o.now()
	fresh := make([]*big.Int, 0, len(o.submissions))
	for _, s := range o.submissions {
		if o.staleAfter > 0 && now.Sub(s.at) > o.staleAfter {
			continue
		}
		fresh = append(fresh, s.price)
	}
	if len(fresh) == 0 {
		return nil, ErrNoFreshPrice
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Cmp(fresh[j]) < 0 })
	mid := len(fresh) / 2
	if len(fresh)%2 == 1 {
		return new(big.Int).Set(fresh[mid]), nil
	}
	sum := new(big.Int).Add(fresh[mid-1], fresh[mid])
	return sum.Quo(sum, big.NewInt(2)), nil
}
