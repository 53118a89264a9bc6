// Package feed streams external ticker prices into the price oracle.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
)

// Submitter accepts price points on behalf of a named feed.
type Submitter interface {
	Submit(submitter string, price *big.Int) error
}

var ErrBadPrice = errors.New("feed: unparseable price")

// Ticker is the wire format of a single price update.
type Ticker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Time   int64  `json:"time,omitempty"`
}

// Config controls a feed client.
type Config struct {
	URL    string
	Symbol string
	// Name identifies this feed to the oracle.
	Name string
	// Scale shifts decimal prices into integer smallest units.
	Scale int32
	// ReconnectDelay is the initial backoff between dial attempts.
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
}

// Client maintains a websocket subscription to a ticker stream and
// forwards each parsed price to the oracle.
type Client struct {
	cfg    Config
	sink   Submitter
	logger log.Logger

	mu        sync.RWMutex
	lastPrice *big.Int
	lastSeen  time.Time
}

func NewClient(cfg Config, sink Submitter, logger log.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{cfg: cfg, sink: sink, logger: logger}
}

// Run dials the feed and pumps prices until the context is cancelled.
// Connection failures are retried with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay
	for {
		if err := c.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("feed disconnected", "url", c.cfg.URL, "err", err, "retry", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}
}

func (c *Client) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	sub := map[string]any{"type": "subscribe", "symbols": []string{c.cfg.Symbol}}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// Unblock ReadJSON when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("feed connected", "url", c.cfg.URL, "symbol", c.cfg.Symbol)
	for {
		var tick Ticker
		if err := conn.ReadJSON(&tick); err != nil {
			return err
		}
		if tick.Symbol != "" && tick.Symbol != c.cfg.Symbol {
			continue
		}
		if err := c.handle(tick); err != nil {
			c.logger.Warn("dropping tick", "symbol", tick.Symbol, "price", tick.Price, "err", err)
		}
	}
}

func (c *Client) handle(tick Ticker) error {
	price, err := ParsePrice(tick.Price, c.cfg.Scale)
	if err != nil {
		return err
	}
	if err := c.sink.Submit(c.cfg.Name, price); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastPrice = price
	c.lastSeen = time.Now()
	c.mu.Unlock()
	return nil
}

// LastPrice returns the most recent accepted price, or nil if none yet.
func (c *Client) LastPrice() (*big.Int, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastPrice == nil {
		return nil, time.Time{}
	}
	return new(big.Int).Set(c.lastPrice), c.lastSeen
}

// ParsePrice converts a decimal price string to integer smallest units,
// shifting by scale and truncating any remaining fraction.
func ParsePrice(s string, scale int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadPrice, s)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadPrice, s)
	}
	return d.Shift(scale).Truncate(0).BigInt(), nil
}

// DecodeTicker parses a raw feed frame.
func DecodeTicker(data []byte) (Ticker, error) {
	var tick Ticker
	if err := json.Unmarshal(data, &tick); err != nil {
		return Ticker{}, err
	}
	return tick, nil
}
