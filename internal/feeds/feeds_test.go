package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/services/panora"
)

func TestBybitHandleMessage(t *testing.T) {
	store := pricestore.New()
	stream := NewBybitStream("wss://unused", []string{"AMIUSDT"}, store)

	stream.handleMessage([]byte(`{
		"topic": "orderbook.1.AMIUSDT",
		"data": {
			"b": [["0.00801", "1500"], ["0.00800", "9000"]],
			"a": [["0.00803", "1200"]]
		}
	}`))

	q, ok := store.GetVenue("AMIUSDT", pricestore.VenueBybit)
	require.True(t, ok)
	assert.True(t, q.Bid.Equal(decimal.RequireFromString("0.00801")))
	assert.True(t, q.Ask.Equal(decimal.RequireFromString("0.00803")))
	assert.True(t, q.BidQty.Equal(decimal.NewFromInt(1500)))
	assert.True(t, q.AskQty.Equal(decimal.NewFromInt(1200)))
}

func TestBybitHandleMessageSkipsAcks(t *testing.T) {
	store := pricestore.New()
	stream := NewBybitStream("wss://unused", []string{"AMIUSDT"}, store)

	stream.handleMessage([]byte(`{"op": "subscribe", "success": true}`))
	stream.handleMessage([]byte(`not json`))
	stream.handleMessage([]byte(`{"topic": "orderbook.1.AMIUSDT", "data": {"b": [], "a": []}}`))

	_, ok := store.GetVenue("AMIUSDT", pricestore.VenueBybit)
	assert.False(t, ok)
}

func TestBybitSubscribedSessionReported(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Accept the subscribe frame, then drop the connection.
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewBybitStream(wsURL, []string{"AMIUSDT"}, pricestore.New())

	subscribed, err := stream.connectAndStream(context.Background())
	assert.True(t, subscribed)
	assert.Error(t, err)
}

func TestBybitDialFailureNotSubscribed(t *testing.T) {
	stream := NewBybitStream("ws://127.0.0.1:1", []string{"AMIUSDT"}, pricestore.New())

	subscribed, err := stream.connectAndStream(context.Background())
	assert.False(t, subscribed)
	assert.Error(t, err)
}

func TestMexcPollerFetchesAllSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "AMIUSDT":
			w.Write([]byte(`{"bidPrice": "0.00800", "askPrice": "0.00802", "bidQty": "5000", "askQty": "4000"}`))
		case "APTUSDT":
			w.Write([]byte(`{"bidPrice": "4.31", "askPrice": "4.32", "bidQty": "100", "askQty": "90"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := pricestore.New()
	p := NewMexcPoller(srv.URL, []string{"AMIUSDT", "APTUSDT"}, 100*time.Millisecond, store)
	p.pollOnce(context.Background())

	ami, ok := store.GetVenue("AMIUSDT", pricestore.VenueMexc)
	require.True(t, ok)
	assert.True(t, ami.Bid.Equal(decimal.RequireFromString("0.00800")))

	apt, ok := store.GetVenue("APTUSDT", pricestore.VenueMexc)
	require.True(t, ok)
	assert.True(t, apt.Ask.Equal(decimal.RequireFromString("4.32")))
}

func TestMexcPollerSiblingFailureIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "AMIUSDT" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"bidPrice": "4.31", "askPrice": "4.32", "bidQty": "1", "askQty": "1"}`))
	}))
	defer srv.Close()

	store := pricestore.New()
	p := NewMexcPoller(srv.URL, []string{"AMIUSDT", "APTUSDT"}, 100*time.Millisecond, store)
	p.pollOnce(context.Background())

	_, ok := store.GetVenue("AMIUSDT", pricestore.VenueMexc)
	assert.False(t, ok)
	_, ok = store.GetVenue("APTUSDT", pricestore.VenueMexc)
	assert.True(t, ok)
}

func TestPanoraPollerWritesBidEqualsAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1 APT -> 540 AMI
		w.Write([]byte(`{"toTokenAmount": "540"}`))
	}))
	defer srv.Close()

	client := panora.NewClient(srv.URL, "key", time.Millisecond, time.Second)
	defer client.Close()

	store := pricestore.New()
	apt := "0x1::aptos_coin::AptosCoin"
	ami := "0xb36527754eb54d7ff55daf13bcb54b42b88ec484bd6f0e3b2e0d1db169de6451"

	p := NewPanoraPoller(client, apt, ami, time.Second, true, store)
	p.pollOnce(context.Background())

	fwd, ok := store.GetVenue(pricestore.DexSymbol(apt, ami), pricestore.VenuePanora)
	require.True(t, ok)
	assert.True(t, fwd.Bid.Equal(fwd.Ask))
	assert.True(t, fwd.Bid.Equal(decimal.NewFromInt(540)))
	assert.True(t, fwd.BidQty.Equal(pricestore.DexQtySentinel))

	inv, ok := store.GetVenue(pricestore.DexSymbol(ami, apt), pricestore.VenuePanora)
	require.True(t, ok)
	assert.True(t, inv.Bid.Equal(inv.Ask))
	assert.True(t, inv.Bid.Equal(decimal.NewFromInt(1).Div(decimal.NewFromInt(540))))
}
