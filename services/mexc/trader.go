package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const BaseURL = "https://api.mexc.com"

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trader places spot market orders and reads balances on MEXC v3.
// Signing is HMAC-SHA256 over the url-encoded parameter string.
type Trader struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewTrader(apiKey, apiSecret string) *Trader {
	return &Trader{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    BaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logrus.WithField("component", "mexc-trader"),
	}
}

// SetBaseURL points the trader at a different host, used in tests.
func (t *Trader) SetBaseURL(u string) {
	t.baseURL = u
}

func (t *Trader) sign(queryString string) string {
	h := hmac.New(sha256.New, []byte(t.apiSecret))
	h.Write([]byte(queryString))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery appends timestamp and signature to params and returns
// the final query string.
func (t *Trader) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	encoded := params.Encode()
	return encoded + "&signature=" + t.sign(encoded)
}

func (t *Trader) do(ctx context.Context, method, path, query string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-MEXC-APIKEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type orderResponse struct {
	OrderID json.Number `json:"orderId"`
	Code    int         `json:"code"`
	Msg     string      `json:"msg"`
}

// PlaceMarketOrder places a spot market order and returns the order
// id. quoteQty selects quoteOrderQty (buys priced in USDT) over
// quantity (sells sized in the base coin).
func (t *Trader) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, quoteQty bool) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	if quoteQty {
		params.Set("quoteOrderQty", qty.String())
	} else {
		params.Set("quantity", qty.String())
	}

	var result orderResponse
	if err := t.do(ctx, http.MethodPost, "/api/v3/order", t.signedQuery(params), &result); err != nil {
		return "", fmt.Errorf("mexc order failed: %w", err)
	}

	if result.OrderID.String() == "" {
		return "", fmt.Errorf("mexc order failed: code=%d msg=%s", result.Code, result.Msg)
	}

	t.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"qty":      qty.String(),
		"order_id": result.OrderID.String(),
	}).Info("order placed")

	return result.OrderID.String(), nil
}

type accountResponse struct {
	Balances []struct {
		Asset string `json:"asset"`
		Free  string `json:"free"`
	} `json:"balances"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// GetBalances returns free spot balances per asset.
func (t *Trader) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var result accountResponse
	if err := t.do(ctx, http.MethodGet, "/api/v3/account", t.signedQuery(url.Values{}), &result); err != nil {
		return nil, fmt.Errorf("mexc balance query failed: %w", err)
	}
	if result.Code != 0 && result.Code != 200 {
		return nil, fmt.Errorf("mexc balance query failed: code=%d msg=%s", result.Code, result.Msg)
	}

	balances := make(map[string]decimal.Decimal)
	for _, bal := range result.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			t.logger.Warnf("unparseable balance for %s: %q", bal.Asset, bal.Free)
			continue
		}
		balances[bal.Asset] = free
	}
	return balances, nil
}
