package pricestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpdateGetRoundTrip(t *testing.T) {
	s := New()
	s.Update(VenueBybit, "AMIUSDT", d("0.00801"), d("0.00803"), d("1200"), d("900"))

	q, ok := s.GetVenue("AMIUSDT", VenueBybit)
	require.True(t, ok)
	assert.True(t, q.Bid.Equal(d("0.00801")))
	assert.True(t, q.Ask.Equal(d("0.00803")))
	assert.True(t, q.BidQty.Equal(d("1200")))
	assert.True(t, q.AskQty.Equal(d("900")))
}

func TestUpdateRejectsNonPositive(t *testing.T) {
	s := New()
	s.Update(VenueBybit, "AMIUSDT", decimal.Zero, d("1"), d("1"), d("1"))
	s.Update(VenueBybit, "AMIUSDT", d("1"), d("-2"), d("1"), d("1"))

	_, ok := s.GetVenue("AMIUSDT", VenueBybit)
	assert.False(t, ok)
}

func TestUpdateOverwrites(t *testing.T) {
	s := New()
	s.Update(VenueMexc, "AMIUSDT", d("1"), d("2"), d("1"), d("1"))
	s.Update(VenueMexc, "AMIUSDT", d("3"), d("4"), d("1"), d("1"))

	q, ok := s.GetVenue("AMIUSDT", VenueMexc)
	require.True(t, ok)
	assert.True(t, q.Bid.Equal(d("3")))
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.Update(VenueBybit, "AMIUSDT", d("1"), d("2"), d("1"), d("1"))

	m := s.Get("AMIUSDT")
	delete(m, VenueBybit)

	_, ok := s.GetVenue("AMIUSDT", VenueBybit)
	assert.True(t, ok)
}

func TestQuoteDerived(t *testing.T) {
	q := Quote{Bid: d("99"), Ask: d("101"), Timestamp: time.Now().Add(-2 * time.Second)}
	assert.True(t, q.Mid().Equal(d("100")))
	assert.True(t, q.Spread().Equal(d("2")))
	assert.True(t, q.IsStale(time.Second))
	assert.False(t, q.IsStale(5*time.Second))
}

func TestQuoteAgeIncreases(t *testing.T) {
	q := Quote{Bid: d("1"), Ask: d("1"), Timestamp: time.Now()}
	a1 := q.Age()
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, q.Age(), a1)
}

func TestDexSymbol(t *testing.T) {
	ami := "0xb36527754eb54d7ff55daf13bcb54b42b88ec484bd6f0e3b2e0d1db169de6451"
	usdt := "0x357b0b74bc833e95a115ad22604854d6b0fca151cecd94111770e5d6ffc9dc2b"

	assert.Equal(t, "0xb3_0x35", DexSymbol(ami, usdt))
	assert.Equal(t, "0x35_0xb3", DexSymbol(usdt, ami))
}
