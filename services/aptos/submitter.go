package aptos

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/services/panora"
)

// Gas budgeting constants.
const (
	GasUnitPrice = 100     // octas per gas unit
	MinGasUnits  = 5_000   // minimum for a router swap (~0.005 APT)
	MaxGasUnits  = 200_000 // default cap
)

// routerParamTypes is the Panora router_entry argument schema: 20
// positional arguments, excluding the implicit &signer. It is used
// both for arity validation and for manual BCS encoding: the node's
// JSON encode path rejects Option<signer>, so arguments must be
// encoded client-side. If the on-chain schema changes, only this
// table changes.
var routerParamTypes = []string{
	"0x1::option::Option<signer>",                                    // [0]  integrator signer (always none)
	"address",                                                        // [1]  to_wallet
	"u64",                                                            // [2]
	"u8",                                                             // [3]  num_splits
	"vector<u8>",                                                     // [4]  pool_type_vec
	"vector<vector<vector<u8>>>",                                     // [5]  pool_info
	"vector<vector<vector<u64>>>",                                    // [6]  pool_amounts
	"vector<vector<vector<bool>>>",                                   // [7]  pool_flags
	"vector<vector<u8>>",                                             // [8]
	"vector<vector<vector<address>>>",                                // [9]  pool_addrs
	"vector<vector<address>>",                                        // [10] from_addrs
	"vector<vector<address>>",                                        // [11] to_addrs
	"0x1::option::Option<vector<vector<vector<vector<vector<u8>>>>>>", // [12]
	"vector<vector<vector<u64>>>",                                    // [13] min_output_amounts
	"0x1::option::Option<vector<vector<vector<u8>>>>",                // [14]
	"address",                                                        // [15] output_token
	"vector<u64>",                                                    // [16] amounts
	"u64",                                                            // [17] from_amount
	"u64",                                                            // [18] min_out
	"address",                                                        // [19] fee_addr
}

// SwapPayload is the entry-function payload extracted from a quote.
type SwapPayload struct {
	Function string
	TypeArgs []string
	Args     []interface{}
}

// ExtractPayload probes a quote response for its transaction payload.
// Primary location is quotes[0].txData; legacy responses carry it at
// the top level under data, txData, payload or swap.
func ExtractPayload(raw map[string]interface{}) (*SwapPayload, error) {
	if raw == nil {
		return nil, fmt.Errorf("quote carries no payload")
	}

	if quotes, ok := raw["quotes"].([]interface{}); ok && len(quotes) > 0 {
		if first, ok := quotes[0].(map[string]interface{}); ok {
			if p := payloadFrom(first["txData"]); p != nil {
				return p, nil
			}
		}
	}

	for _, key := range []string{"data", "txData", "payload", "swap"} {
		if p := payloadFrom(raw[key]); p != nil {
			return p, nil
		}
	}
	if p := payloadFrom(raw); p != nil {
		return p, nil
	}

	return nil, fmt.Errorf("no transaction payload in quote response")
}

func payloadFrom(v interface{}) *SwapPayload {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}

	function, _ := m["function"].(string)
	if function == "" {
		function, _ = m["fn"].(string)
	}
	if function == "" {
		return nil
	}

	p := &SwapPayload{Function: function}
	typeArgs := m["typeArguments"]
	if typeArgs == nil {
		typeArgs = m["type_arguments"]
	}
	if list, ok := typeArgs.([]interface{}); ok {
		for _, t := range list {
			if s, ok := t.(string); ok {
				p.TypeArgs = append(p.TypeArgs, s)
			}
		}
	}
	args := m["functionArguments"]
	if args == nil {
		args = m["arguments"]
	}
	if list, ok := args.([]interface{}); ok {
		p.Args = list
	}
	return p
}

// computeMaxGas caps the gas budget so small wallets cannot be asked
// for more fee than they hold: 90% of the balance at the fixed gas
// unit price, bounded by the default cap.
func computeMaxGas(aptOctas uint64) uint64 {
	dyn := aptOctas * 9 / 10 / GasUnitPrice
	if dyn > MaxGasUnits {
		return MaxGasUnits
	}
	return dyn
}

// Submitter signs and submits router swaps built from DEX quotes.
type Submitter struct {
	client  *Client
	quotes  *panora.Client
	account *Account
	gasCap  uint64
	logger  *logrus.Entry
}

// NewSubmitter wires the node client, the quote client, and the
// loaded signing account. The quote client learns the wallet address
// so fetched payloads are executable by this account.
func NewSubmitter(client *Client, quotes *panora.Client, account *Account) *Submitter {
	quotes.SetWalletAddress(account.Address())
	return &Submitter{
		client:  client,
		quotes:  quotes,
		account: account,
		gasCap:  MaxGasUnits,
		logger:  logrus.WithField("component", "aptos-submitter"),
	}
}

// SetGasCap lowers the per-transaction gas unit ceiling.
func (s *Submitter) SetGasCap(units uint64) {
	if units > 0 && units < MaxGasUnits {
		s.gasCap = units
	}
}

func (s *Submitter) Account() *Account {
	return s.account
}

func (s *Submitter) Client() *Client {
	return s.client
}

var vmStatusRe = regexp.MustCompile(`"vm_status"\s*:\s*"([^"]+)"`)

// ExecuteSwap swaps fromAmount of fromAddr into toAddr on-chain and
// returns the confirmed transaction hash. A prefetched non-synthetic
// quote from the verification step is reused directly; synthetic
// quotes carry no payload, so a fresh quote is forced instead.
func (s *Submitter) ExecuteSwap(ctx context.Context, fromAmount decimal.Decimal, fromAddr, toAddr string, slippagePct decimal.Decimal, prefetched *panora.Quote) (string, error) {
	quote := prefetched
	if quote == nil || quote.Synthetic {
		if quote != nil {
			s.logger.Debug("prefetched quote is synthetic, forcing fresh execution quote")
		}
		var err error
		quote, err = s.quotes.GetSwapQuote(ctx, fromAmount, fromAddr, toAddr, panora.QuoteOptions{
			ForceFresh:  true,
			SlippagePct: slippagePct,
		})
		if err != nil {
			return "", fmt.Errorf("execution quote failed: %w", err)
		}
	}

	payload, err := ExtractPayload(quote.Raw)
	if err != nil {
		return "", err
	}

	if len(payload.Args) != len(routerParamTypes) {
		return "", fmt.Errorf("router schema mismatch: expected %d args, got %d",
			len(routerParamTypes), len(payload.Args))
	}

	bcsArgs := make([][]byte, 0, len(payload.Args))
	for i, arg := range payload.Args {
		encoded, err := EncodeMoveValue(routerParamTypes[i], arg)
		if err != nil {
			return "", fmt.Errorf("BCS encoding failed at arg[%d]: %w", i, err)
		}
		bcsArgs = append(bcsArgs, encoded)
	}

	typeTags := make([]TypeTag, 0, len(payload.TypeArgs))
	for _, t := range payload.TypeArgs {
		tag, err := ParseTypeTag(t)
		if err != nil {
			return "", fmt.Errorf("type tag parsing failed: %w", err)
		}
		typeTags = append(typeTags, tag)
	}

	entryFn, err := NewEntryFunction(payload.Function, typeTags, bcsArgs)
	if err != nil {
		return "", err
	}

	wallet := s.account.Address()
	octas, err := s.client.NativeBalance(ctx, wallet)
	maxGas := s.gasCap
	if err != nil {
		s.logger.Warnf("could not check APT balance, using default gas cap: %v", err)
	} else {
		maxGas = computeMaxGas(octas)
		aptHuman := decimal.New(int64(octas), -APTDecimals)
		if maxGas < MinGasUnits {
			return "", fmt.Errorf("insufficient APT for gas: balance=%s APT, need >= %s APT",
				aptHuman, decimal.New(MinGasUnits*GasUnitPrice, -APTDecimals))
		}
		if maxGas < MaxGasUnits {
			s.logger.Warnf("low APT (%s), capping max_gas=%d units", aptHuman, maxGas)
		}
		if maxGas > s.gasCap {
			maxGas = s.gasCap
		}
	}

	seq, err := s.client.SequenceNumber(ctx, wallet)
	if err != nil {
		return "", fmt.Errorf("sequence number query failed: %w", err)
	}
	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain id query failed: %w", err)
	}

	raw := &RawTransaction{
		Sender:         wallet,
		SequenceNumber: seq,
		Payload:        entryFn,
		MaxGasAmount:   maxGas,
		GasUnitPrice:   GasUnitPrice,
		ExpirationSecs: DefaultExpiration(),
		ChainID:        chainID,
	}

	signed, err := raw.SignedBytes(s.account)
	if err != nil {
		return "", fmt.Errorf("transaction signing failed: %w", err)
	}

	hash, err := s.client.SubmitBCS(ctx, signed)
	if err != nil {
		return "", surfaceVMStatus(err)
	}
	s.logger.WithField("tx", hash).Info("swap submitted")

	if err := s.client.WaitForTransaction(ctx, hash); err != nil {
		return "", surfaceVMStatus(err)
	}

	s.logger.WithFields(logrus.Fields{
		"from":   shortAddr(fromAddr),
		"amount": fromAmount.String(),
		"tx":     hash,
	}).Info("swap confirmed")
	return hash, nil
}

// surfaceVMStatus extracts an embedded vm_status message so callers
// see the VM failure reason instead of a JSON blob.
func surfaceVMStatus(err error) error {
	if m := vmStatusRe.FindStringSubmatch(err.Error()); m != nil {
		return fmt.Errorf("swap failed: %s", m[1])
	}
	return err
}

func shortAddr(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:16] + "…"
}
