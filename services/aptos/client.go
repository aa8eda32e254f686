package aptos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	aptosCoinType = "0x1::aptos_coin::AptosCoin"

	// APTDecimals is the native coin's base-unit exponent (octas).
	APTDecimals = 8
)

// Client talks to an Aptos fullnode over its REST API.
type Client struct {
	nodeURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewClient(nodeURL string) *Client {
	return &Client{
		nodeURL:    nodeURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logrus.WithField("component", "aptos-client"),
	}
}

// View calls a Move view function and returns its result values.
func (c *Client) View(ctx context.Context, function string, typeArgs, args []interface{}) ([]interface{}, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"function":       function,
		"type_arguments": typeArgs,
		"arguments":      args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal view request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+"/view", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create view request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read view response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view HTTP %d: %s", resp.StatusCode, truncate(string(body), 120))
	}

	var out []interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse view response: %w", err)
	}
	return out, nil
}

// NativeBalance returns the wallet's APT balance in octas.
func (c *Client) NativeBalance(ctx context.Context, wallet string) (uint64, error) {
	out, err := c.View(ctx, "0x1::coin::balance", []interface{}{aptosCoinType}, []interface{}{wallet})
	if err != nil {
		return 0, err
	}
	return firstUint(out)
}

// TokenBalance returns a human-readable balance for any Aptos token.
// Fungible-asset tokens answer the primary-store view; older coins
// only answer the legacy coin-store view keyed by the coin type.
func (c *Client) TokenBalance(ctx context.Context, wallet, tokenAddress string, decimals int32) (decimal.Decimal, error) {
	if tokenAddress == aptosCoinType || tokenAddress == "0xa" ||
		tokenAddress == "0x000000000000000000000000000000000000000000000000000000000000000a" {
		octas, err := c.NativeBalance(ctx, wallet)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.New(int64(octas), -APTDecimals), nil
	}

	// FA metadata object address is the part before any module path.
	faAddr := tokenAddress
	if idx := strings.Index(tokenAddress, "::"); idx >= 0 {
		faAddr = tokenAddress[:idx]
	}

	out, err := c.View(ctx, "0x1::primary_fungible_store::balance",
		[]interface{}{"0x1::fungible_asset::Metadata"},
		[]interface{}{wallet, faAddr})
	if err == nil {
		if raw, ferr := firstUint(out); ferr == nil {
			return decimal.New(int64(raw), -decimals), nil
		}
	}

	out, err = c.View(ctx, "0x1::coin::balance",
		[]interface{}{tokenAddress},
		[]interface{}{wallet})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance views failed for %s: %w", tokenAddress, err)
	}
	raw, err := firstUint(out)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(raw), -decimals), nil
}

type accountInfo struct {
	SequenceNumber string `json:"sequence_number"`
}

// SequenceNumber returns the account's next transaction sequence.
func (c *Client) SequenceNumber(ctx context.Context, address string) (uint64, error) {
	var info accountInfo
	if err := c.getJSON(ctx, "/accounts/"+address, &info); err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(info.SequenceNumber, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %w", info.SequenceNumber, err)
	}
	return seq, nil
}

type ledgerInfo struct {
	ChainID uint8 `json:"chain_id"`
}

// ChainID returns the network's chain id from ledger info.
func (c *Client) ChainID(ctx context.Context) (uint8, error) {
	var info ledgerInfo
	if err := c.getJSON(ctx, "", &info); err != nil {
		return 0, err
	}
	return info.ChainID, nil
}

type pendingTransaction struct {
	Hash string `json:"hash"`
}

// SubmitBCS submits a BCS-signed transaction and returns its hash.
func (c *Client) SubmitBCS(ctx context.Context, signed []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+"/transactions", bytes.NewReader(signed))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x.aptos.signed_transaction+bcs")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var pending pendingTransaction
	if err := json.Unmarshal(body, &pending); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}
	return pending.Hash, nil
}

type transactionStatus struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
}

// WaitForTransaction polls by hash until the transaction lands. A
// committed transaction with a non-success VM status surfaces the
// vm_status string as the error.
func (c *Client) WaitForTransaction(ctx context.Context, hash string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var status transactionStatus
		err := c.getJSON(ctx, "/transactions/by_hash/"+hash, &status)
		if err == nil && status.Type != "pending_transaction" {
			if !status.Success {
				return fmt.Errorf("transaction %s failed: %s", hash, status.VMStatus)
			}
			return nil
		}
		if err != nil {
			c.logger.Debugf("waiting for %s: %v", hash, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", hash, ctx.Err())
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodeURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 120))
	}
	return json.Unmarshal(body, out)
}

func firstUint(out []interface{}) (uint64, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("empty view result")
	}
	switch v := out[0].(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid view integer %q: %w", v, err)
		}
		return n, nil
	case float64:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("unexpected view result type %T", out[0])
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
