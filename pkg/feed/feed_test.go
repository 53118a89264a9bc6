package feed

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		scale int32
		want  int64
		err   bool
	}{
		{name: "integer", in: "50000", scale: 0, want: 50000},
		{name: "shifted", in: "50000.25", scale: 2, want: 5000025},
		{name: "truncates", in: "0.123456", scale: 2, want: 12},
		{name: "zero", in: "0", scale: 0, err: true},
		{name: "negative", in: "-5", scale: 0, err: true},
		{name: "garbage", in: "n/a", scale: 0, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.in, tt.scale)
			if tt.err {
				require.ErrorIs(t, err, ErrBadPrice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(tt.want), got)
		})
	}
}

func TestDecodeTicker(t *testing.T) {
	tick, err := DecodeTicker([]byte(`{"symbol":"BTC-USD","price":"50000.5","time":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", tick.Symbol)
	assert.Equal(t, "50000.5", tick.Price)

	_, err = DecodeTicker([]byte(`{`))
	assert.Error(t, err)
}

type chanSubmitter struct {
	prices chan *big.Int
}

func (s *chanSubmitter) Submit(_ string, price *big.Int) error {
	s.prices <- price
	return nil
}

func TestClientStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Consume the subscribe frame before publishing.
		var sub map[string]any
		require.NoError(t, conn.ReadJSON(&sub))

		require.NoError(t, conn.WriteJSON(Ticker{Symbol: "BTC-USD", Price: "50000"}))
		require.NoError(t, conn.WriteJSON(Ticker{Symbol: "ETH-USD", Price: "3000"}))
		require.NoError(t, conn.WriteJSON(Ticker{Symbol: "BTC-USD", Price: "bogus"}))
		require.NoError(t, conn.WriteJSON(Ticker{Symbol: "BTC-USD", Price: "55000"}))
		<-r.Context().Done()
	}))
	defer srv.Close()

	level, _ := log.ToLevel("debug")
	sink := &chanSubmitter{prices: make(chan *big.Int, 4)}
	client := NewClient(Config{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol: "BTC-USD",
		Name:   "test-feed",
	}, sink, log.NewTestLogger(level))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	recv := func() *big.Int {
		select {
		case p := <-sink.prices:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for price")
			return nil
		}
	}

	// Off-symbol and unparseable ticks are dropped.
	assert.Equal(t, big.NewInt(50000), recv())
	assert.Equal(t, big.NewInt(55000), recv())

	last, seen := client.LastPrice()
	assert.Equal(t, big.NewInt(55000), last)
	assert.False(t, seen.IsZero())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}
