package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceMarketOrderSignsQuery(t *testing.T) {
	const secret = "test-secret"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))

		q := r.URL.Query()
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, SideSell, q.Get("side"))
		assert.Equal(t, "1250.5", q.Get("quantity"))
		assert.Empty(t, q.Get("quoteOrderQty"))

		// Signature covers the encoded query minus the signature itself.
		raw := r.URL.RawQuery
		idx := strings.Index(raw, "&signature=")
		require.Greater(t, idx, 0)
		h := hmac.New(sha256.New, []byte(secret))
		h.Write([]byte(raw[:idx]))
		assert.Equal(t, hex.EncodeToString(h.Sum(nil)), q.Get("signature"))

		w.Write([]byte(`{"orderId": 987654}`))
	}))
	defer srv.Close()

	tr := NewTrader("key", secret)
	tr.SetBaseURL(srv.URL)

	id, err := tr.PlaceMarketOrder(context.Background(), "AMIUSDT", SideSell, decimal.RequireFromString("1250.5"), false)
	require.NoError(t, err)
	assert.Equal(t, "987654", id)
}

func TestPlaceMarketOrderQuoteQty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "10", q.Get("quoteOrderQty"))
		assert.Empty(t, q.Get("quantity"))
		w.Write([]byte(`{"orderId": "abc-1"}`))
	}))
	defer srv.Close()

	tr := NewTrader("key", "secret")
	tr.SetBaseURL(srv.URL)

	id, err := tr.PlaceMarketOrder(context.Background(), "AMIUSDT", SideBuy, decimal.NewFromInt(10), true)
	require.NoError(t, err)
	assert.Equal(t, "abc-1", id)
}

func TestPlaceMarketOrderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 30004, "msg": "Insufficient balance"}`))
	}))
	defer srv.Close()

	tr := NewTrader("key", "secret")
	tr.SetBaseURL(srv.URL)

	_, err := tr.PlaceMarketOrder(context.Background(), "AMIUSDT", SideBuy, decimal.NewFromInt(10), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "30004")
}

func TestGetBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.Write([]byte(`{"balances": [
			{"asset": "USDT", "free": "77.25"},
			{"asset": "AMI", "free": "12000"}
		]}`))
	}))
	defer srv.Close()

	tr := NewTrader("key", "secret")
	tr.SetBaseURL(srv.URL)

	balances, err := tr.GetBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, balances["USDT"].Equal(decimal.RequireFromString("77.25")))
	assert.True(t, balances["AMI"].Equal(decimal.NewFromInt(12000)))
}
