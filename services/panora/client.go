package panora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kemkene/arb-ami/pkg/cache"
)

const (
	defaultMaxRetries = 3
	requestTimeout    = 10 * time.Second
)

// Quote is one swap quote from the DEX. Synthetic quotes are derived
// from the unit-price cache and carry no transaction payload, so the
// executor must refetch with ForceFresh before submitting on-chain.
type Quote struct {
	ToTokenAmount decimal.Decimal
	UnitPrice     decimal.Decimal
	Synthetic     bool
	Raw           map[string]interface{}
	FetchedAt     time.Time
}

// QuoteOptions tunes a single GetSwapQuote call.
type QuoteOptions struct {
	// ForceFresh bypasses both caches and always issues an HTTP call.
	ForceFresh bool
	// SlippagePct, when positive, is sent as the slippagePercentage hint.
	SlippagePct decimal.Decimal
}

// Client is the sole HTTP front-end for the Panora swap API. It owns
// the exact-quote cache, the unit-price cache and the inter-call rate
// spacing, so every caller shares one request budget.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry

	walletAddress string

	maxRetries     int
	baseRetryDelay time.Duration
	cacheTTL       time.Duration

	exactCache *cache.MemoryCache
	unitCache  *cache.MemoryCache

	mu             sync.Mutex
	rateLimited    bool
	totalRequests  int
	totalRateLimit int
	cacheHits      int
}

type unitPrice struct {
	price decimal.Decimal
}

// NewClient builds a Panora client. cacheTTL should equal the poll
// interval so cached entries expire just as a new poll arrives.
// minInterval is the minimum spacing between HTTP calls.
func NewClient(apiURL, apiKey string, minInterval, cacheTTL time.Duration) *Client {
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &Client{
		apiURL:         apiURL,
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: requestTimeout},
		limiter:        rate.NewLimiter(rate.Every(minInterval), 1),
		logger:         logrus.WithField("component", "panora"),
		maxRetries:     defaultMaxRetries,
		baseRetryDelay: time.Second,
		cacheTTL:       cacheTTL,
		exactCache:     cache.NewMemoryCache(),
		unitCache:      cache.NewMemoryCache(),
	}
}

// SetWalletAddress sets the destination wallet sent with quote
// requests so returned payloads are executable by that wallet.
func (c *Client) SetWalletAddress(addr string) {
	c.walletAddress = addr
}

// SetRetryPolicy overrides the retry count and base back-off delay.
func (c *Client) SetRetryPolicy(maxRetries int, baseDelay time.Duration) {
	c.maxRetries = maxRetries
	c.baseRetryDelay = baseDelay
}

// cacheKey rounds amount to six significant figures so near-identical
// quantities share a cache slot.
func cacheKey(fromAddr, toAddr string, amount decimal.Decimal) string {
	rounded := strconv.FormatFloat(amount.InexactFloat64(), 'g', 6, 64)
	return fromAddr + "|" + toAddr + "|" + rounded
}

// GetSwapQuote returns a quote for swapping fromAmount of fromAddr
// into toAddr. Unless ForceFresh is set, repeated calls within one
// poll window are served from the exact cache, and calls with a
// different amount in the same direction are synthesized from the
// unit-price cache without an HTTP request.
func (c *Client) GetSwapQuote(ctx context.Context, fromAmount decimal.Decimal, fromAddr, toAddr string, opts QuoteOptions) (*Quote, error) {
	if !opts.ForceFresh {
		if q, ok := c.exactCache.Get(cacheKey(fromAddr, toAddr, fromAmount)); ok {
			c.countCacheHit()
			return q.(*Quote), nil
		}
		if v, ok := c.unitCache.Get(fromAddr + "|" + toAddr); ok {
			up := v.(unitPrice)
			c.countCacheHit()
			return &Quote{
				ToTokenAmount: up.price.Mul(fromAmount),
				UnitPrice:     up.price,
				Synthetic:     true,
				FetchedAt:     time.Now(),
			}, nil
		}
	}

	return c.fetchQuote(ctx, fromAmount, fromAddr, toAddr, opts)
}

func (c *Client) fetchQuote(ctx context.Context, fromAmount decimal.Decimal, fromAddr, toAddr string, opts QuoteOptions) (*Quote, error) {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	params := url.Values{}
	params.Set("fromTokenAddress", fromAddr)
	params.Set("toTokenAddress", toAddr)
	params.Set("fromTokenAmount", fromAmount.String())
	if c.walletAddress != "" {
		params.Set("toWalletAddress", c.walletAddress)
	}
	if opts.SlippagePct.IsPositive() {
		params.Set("slippagePercentage", opts.SlippagePct.String())
	}

	reqURL := c.apiURL + "?" + params.Encode()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warnf("quote request failed (attempt %d/%d): %v", attempt+1, c.maxRetries, err)
			if attempt < c.maxRetries-1 {
				if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("quote request failed: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read quote response: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			c.mu.Lock()
			if c.rateLimited {
				c.logger.Info("recovered from rate limiting")
			}
			c.rateLimited = false
			c.mu.Unlock()

			quote, err := c.parseQuote(body)
			if err != nil {
				return nil, err
			}
			c.exactCache.Set(cacheKey(fromAddr, toAddr, fromAmount), quote, c.cacheTTL)
			if quote.ToTokenAmount.IsPositive() && fromAmount.IsPositive() {
				c.unitCache.Set(fromAddr+"|"+toAddr, unitPrice{price: quote.ToTokenAmount.Div(fromAmount)}, c.cacheTTL)
			}
			return quote, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			c.mu.Lock()
			c.totalRateLimit++
			c.rateLimited = true
			c.mu.Unlock()

			retryAfter := resp.Header.Get("Retry-After")
			c.logger.WithFields(logrus.Fields{
				"status":      resp.StatusCode,
				"attempt":     attempt + 1,
				"retry_after": retryAfter,
			}).Warn("rate limited by Panora API")

			if attempt < c.maxRetries-1 {
				wait := c.backoff(attempt)
				if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
					wait = time.Duration(secs) * time.Second
				}
				if serr := c.sleep(ctx, wait); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, fmt.Errorf("rate limited after %d attempts", c.maxRetries)

		default:
			return nil, fmt.Errorf("quote API HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
	}

	return nil, fmt.Errorf("quote request exhausted %d attempts", c.maxRetries)
}

// GetPrice returns the unit price for swapping amount of fromAddr
// into toAddr, computed as toTokenAmount / fromTokenAmount.
func (c *Client) GetPrice(ctx context.Context, amount decimal.Decimal, fromAddr, toAddr string) (decimal.Decimal, error) {
	quote, err := c.GetSwapQuote(ctx, amount, fromAddr, toAddr, QuoteOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	if !quote.ToTokenAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive toTokenAmount in quote")
	}
	return quote.ToTokenAmount.Div(amount), nil
}

// parseQuote decodes a swap response. The schema is flexible:
// toTokenAmount may be top-level or under quotes[0].
func (c *Client) parseQuote(body []byte) (*Quote, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	amount, ok := probeAmount(raw, "toTokenAmount")
	if !ok {
		return nil, fmt.Errorf("quote response carries no toTokenAmount")
	}

	return &Quote{ToTokenAmount: amount, Raw: raw, FetchedAt: time.Now()}, nil
}

// probeAmount looks for a numeric field at the top level, then under
// quotes[0].
func probeAmount(raw map[string]interface{}, field string) (decimal.Decimal, bool) {
	if d, ok := toDecimal(raw[field]); ok {
		return d, true
	}
	if quotes, ok := raw["quotes"].([]interface{}); ok && len(quotes) > 0 {
		if first, ok := quotes[0].(map[string]interface{}); ok {
			if d, ok := toDecimal(first[field]); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// RateLimited reports whether the most recent HTTP attempt was
// throttled and has not yet recovered.
func (c *Client) RateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimited
}

// Stats returns a human-readable summary for heartbeat logs.
func (c *Client) Stats() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totalRequests
	pct := 0.0
	if total > 0 {
		pct = float64(c.totalRateLimit) / float64(total) * 100
	}
	totalWithHits := total + c.cacheHits
	savedPct := 0.0
	if totalWithHits > 0 {
		savedPct = float64(c.cacheHits) / float64(totalWithHits) * 100
	}
	return fmt.Sprintf("requests=%d cache_hits=%d (saved %.0f%%) rate_limits=%d (%.1f%%) currently_limited=%v",
		total, c.cacheHits, savedPct, c.totalRateLimit, pct, c.rateLimited)
}

// Close releases the cache janitors.
func (c *Client) Close() {
	c.exactCache.Stop()
	c.unitCache.Stop()
}

func (c *Client) countCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.baseRetryDelay * time.Duration(1<<attempt)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
