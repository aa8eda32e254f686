package executor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFloorQtyPrecisionTiers(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1234.5678", "1234"},
		{"100.99", "100"},
		{"99.9999", "99.99"},
		{"1.23456", "1.23"},
		{"0.999999", "0.9999"},
		{"0.012345", "0.0123"},
		{"0.00999999", "0.009999"},
		{"0.00000049", "0"},
	}
	for _, c := range cases {
		got := FloorQty(decimal.RequireFromString(c.in))
		assert.True(t, got.Equal(decimal.RequireFromString(c.want)), "%s -> %s, want %s", c.in, got, c.want)
	}
}

func TestFloorQtyIdempotent(t *testing.T) {
	for _, s := range []string{"1234.5678", "55.5555", "0.987654", "0.00123456"} {
		once := FloorQty(decimal.RequireFromString(s))
		twice := FloorQty(once)
		assert.True(t, once.Equal(twice), "%s: %s != %s", s, once, twice)
	}
}

func TestBaseCoin(t *testing.T) {
	assert.Equal(t, "AMI", BaseCoin("AMIUSDT"))
	assert.Equal(t, "APT", BaseCoin("APTUSDT"))
	assert.Equal(t, "XYZ", BaseCoin("XYZUSDC"))
	assert.Equal(t, "SOL", BaseCoin("SOLBTC"))
	assert.Equal(t, "FOO", BaseCoin("FOOETH"))
	// unknown quote passes through
	assert.Equal(t, "AMIEUR", BaseCoin("AMIEUR"))
	// no base part left
	assert.Equal(t, "USDT", BaseCoin("USDT"))
}
