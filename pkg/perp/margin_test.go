package perp

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarginRatio(t *testing.T) {
	tests := []struct {
		name       string
		settlement int64
		value      int64
		want       int64
	}{
		{"fully collateralized", 1000, 1000, 10000},
		{"doubled", 2000, 1000, 20000},
		{"wiped", 0, 1000, 0},
		{"three percent", 30, 1000, 300},
		{"truncates", 333, 10000, 333},
		{"truncates odd", 1, 3, 3333},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarginRatio(big.NewInt(tt.settlement), big.NewInt(tt.value))
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestLiquidatable(t *testing.T) {
	req := big.NewInt(300)

	// Exactly at the requirement is still adequately collateralized.
	assert.False(t, Liquidatable(big.NewInt(30), big.NewInt(1000), req))
	assert.False(t, Liquidatable(big.NewInt(1000), big.NewInt(1000), req))
	assert.True(t, Liquidatable(big.NewInt(29), big.NewInt(1000), req))
	assert.True(t, Liquidatable(new(big.Int), big.NewInt(1000), req))
}
