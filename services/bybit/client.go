package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const (
	BaseURL    = "https://api.bybit.com"
	recvWindow = "5000"
)

// BaseResponse is the V5 API envelope shared by every endpoint.
type BaseResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Client is a Bybit V5 REST client with HMAC request signing.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, apiSecret string) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   BaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL points the client at a different host, used in tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Request makes an authenticated V5 request. GET requests sign the
// query string, POST requests sign the JSON body.
func (c *Client) Request(ctx context.Context, method, endpoint string, params map[string]interface{}, result interface{}) error {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var queryString string
	var body []byte
	var err error

	if method == http.MethodGet {
		queryString = buildQueryString(params)
		if queryString != "" {
			endpoint = endpoint + "?" + queryString
		}
	} else if params != nil {
		body, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	var signPayload string
	if method == http.MethodGet {
		signPayload = timestamp + c.apiKey + recvWindow + queryString
	} else {
		signPayload = timestamp + c.apiKey + recvWindow + string(body)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", c.sign(signPayload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var baseResp BaseResponse
	if err := json.Unmarshal(respBody, &baseResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if baseResp.RetCode != 0 {
		return fmt.Errorf("API error %d: %s", baseResp.RetCode, baseResp.RetMsg)
	}

	if result != nil && baseResp.Result != nil {
		if err := json.Unmarshal(baseResp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return nil
}

// sign generates the HMAC SHA256 signature over
// timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func buildQueryString(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch val := params[k].(type) {
		case string:
			if val != "" {
				values.Add(k, val)
			}
		case int:
			values.Add(k, strconv.Itoa(val))
		case int64:
			values.Add(k, strconv.FormatInt(val, 10))
		case float64:
			values.Add(k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			values.Add(k, strconv.FormatBool(val))
		}
	}

	return values.Encode()
}
