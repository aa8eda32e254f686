package bybit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Market order quantity units.
const (
	MarketUnitBase  = "baseCoinQty"
	MarketUnitQuote = "quoteCoinQty"
)

// Order sides.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"
)

// Trader places spot market orders and reads wallet balances on the
// unified account.
type Trader struct {
	client *Client
	logger *logrus.Entry
}

func NewTrader(apiKey, apiSecret string) *Trader {
	return &Trader{
		client: NewClient(apiKey, apiSecret),
		logger: logrus.WithField("component", "bybit-trader"),
	}
}

// SetBaseURL redirects the underlying client, used in tests.
func (t *Trader) SetBaseURL(u string) {
	t.client.SetBaseURL(u)
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceMarketOrder places a spot market order and returns the order
// id. marketUnit selects whether qty is in base or quote units; the
// trading loop sizes both sides in base coin and always passes
// MarketUnitBase.
func (t *Trader) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, marketUnit string) (string, error) {
	params := map[string]interface{}{
		"category":   "spot",
		"symbol":     symbol,
		"side":       side,
		"orderType":  "Market",
		"qty":        qty.String(),
		"marketUnit": marketUnit,
	}

	var result orderResult
	if err := t.client.Request(ctx, http.MethodPost, "/v5/order/create", params, &result); err != nil {
		return "", fmt.Errorf("bybit order failed: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"qty":      qty.String(),
		"order_id": result.OrderID,
	}).Info("order placed")

	return result.OrderID, nil
}

type walletBalanceResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin                string `json:"coin"`
			AvailableToWithdraw string `json:"availableToWithdraw"`
			Free                string `json:"free"`
		} `json:"coin"`
	} `json:"list"`
}

// GetBalances returns free balances per coin from the UNIFIED wallet.
// The available-to-withdraw figure is preferred; some account modes
// only report free.
func (t *Trader) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	var result walletBalanceResult
	if err := t.client.Request(ctx, http.MethodGet, "/v5/account/wallet-balance", params, &result); err != nil {
		return nil, fmt.Errorf("bybit balance query failed: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	for _, account := range result.List {
		for _, coin := range account.Coin {
			raw := coin.AvailableToWithdraw
			if raw == "" {
				raw = coin.Free
			}
			if raw == "" {
				continue
			}
			free, err := decimal.NewFromString(raw)
			if err != nil {
				t.logger.Warnf("unparseable balance for %s: %q", coin.Coin, raw)
				continue
			}
			balances[coin.Coin] = free
		}
	}

	return balances, nil
}
