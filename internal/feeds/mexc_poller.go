package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/pricestore"
)

// MexcPoller fetches top-of-book for each configured symbol from the
// bookTicker endpoint. Within one tick the per-symbol requests run
// concurrently; the next tick starts one interval after the previous
// tick began, so a slow symbol never stretches the cadence.
type MexcPoller struct {
	restURL    string
	symbols    []string
	interval   time.Duration
	store      *pricestore.Store
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewMexcPoller(restURL string, symbols []string, interval time.Duration, store *pricestore.Store) *MexcPoller {
	return &MexcPoller{
		restURL:    restURL,
		symbols:    symbols,
		interval:   interval,
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logrus.WithField("component", "mexc-poller"),
	}
}

// Run blocks until ctx is cancelled.
func (m *MexcPoller) Run(ctx context.Context) {
	m.logger.Infof("started for %v, interval=%s", m.symbols, m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.pollOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *MexcPoller) pollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range m.symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := m.fetchSymbol(ctx, symbol); err != nil && ctx.Err() == nil {
				m.logger.Warnf("%s: %v", symbol, err)
			}
		}(symbol)
	}
	wg.Wait()
}

type bookTicker struct {
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
	BidQty   string `json:"bidQty"`
	AskQty   string `json:"askQty"`
}

func (m *MexcPoller) fetchSymbol(ctx context.Context, symbol string) error {
	reqURL := m.restURL + "?" + url.Values{"symbol": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var tick bookTicker
	if err := json.Unmarshal(body, &tick); err != nil {
		return fmt.Errorf("failed to parse bookTicker: %w", err)
	}

	bid, err := decimal.NewFromString(tick.BidPrice)
	if err != nil {
		return fmt.Errorf("invalid bidPrice %q", tick.BidPrice)
	}
	ask, err := decimal.NewFromString(tick.AskPrice)
	if err != nil {
		return fmt.Errorf("invalid askPrice %q", tick.AskPrice)
	}
	bidQty := decimalOrZero(tick.BidQty)
	askQty := decimalOrZero(tick.AskQty)

	m.store.Update(pricestore.VenueMexc, symbol, bid, ask, bidQty, askQty)
	return nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
