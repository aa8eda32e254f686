package feeds

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/pricestore"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
	heartbeatEvery        = 15 * time.Second
)

// BybitStream maintains one websocket connection to Bybit's public
// spot stream, subscribes all symbols in a single message, and writes
// top-of-book updates into the store. Connection loss is never fatal:
// the stream reconnects with exponential back-off.
type BybitStream struct {
	wsURL   string
	symbols []string
	store   *pricestore.Store
	logger  *logrus.Entry

	lastHeartbeat map[string]time.Time
}

func NewBybitStream(wsURL string, symbols []string, store *pricestore.Store) *BybitStream {
	return &BybitStream{
		wsURL:         wsURL,
		symbols:       symbols,
		store:         store,
		logger:        logrus.WithField("component", "bybit-ws"),
		lastHeartbeat: make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, reconnecting forever. The
// back-off delay resets after any connection that got as far as
// subscribing, so one healthy session does not inherit the previous
// outage's delay.
func (b *BybitStream) Run(ctx context.Context) {
	delay := initialReconnectDelay
	for {
		subscribed, err := b.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			delay = initialReconnectDelay
		}
		b.logger.Warnf("stream closed: %v, reconnecting in %s", err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (b *BybitStream) connectAndStream(ctx context.Context) (subscribed bool, streamErr error) {
	b.logger.Infof("connecting for %v", b.symbols)

	dialer := websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Close the socket when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	args := make([]string, len(b.symbols))
	for i, s := range b.symbols {
		args[i] = "orderbook.1." + s
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return false, err
	}
	b.logger.Infof("subscribed to %v", args)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		b.handleMessage(raw)
	}
}

type bookMsg struct {
	Topic string `json:"topic"`
	Data  struct {
		B [][]string `json:"b"`
		A [][]string `json:"a"`
	} `json:"data"`
}

// handleMessage parses one push and writes the first bid/ask level.
// Messages without data (subscription acks, pongs) are skipped.
func (b *BybitStream) handleMessage(raw []byte) {
	var msg bookMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.logger.Debugf("unparseable message: %v", err)
		return
	}
	if msg.Topic == "" || len(msg.Data.B) == 0 || len(msg.Data.A) == 0 {
		return
	}

	parts := strings.Split(msg.Topic, ".")
	symbol := parts[len(parts)-1]

	bid, err1 := decimal.NewFromString(msg.Data.B[0][0])
	bidQty, err2 := decimal.NewFromString(msg.Data.B[0][1])
	ask, err3 := decimal.NewFromString(msg.Data.A[0][0])
	askQty, err4 := decimal.NewFromString(msg.Data.A[0][1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		b.logger.Warnf("unparseable book levels for %s", symbol)
		return
	}

	b.store.Update(pricestore.VenueBybit, symbol, bid, ask, bidQty, askQty)

	if time.Since(b.lastHeartbeat[symbol]) >= heartbeatEvery {
		b.lastHeartbeat[symbol] = time.Now()
		b.logger.Infof("%s bid=%s ask=%s", symbol, bid, ask)
	}
}
