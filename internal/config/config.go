package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Settings is the process-wide configuration, built once at startup
// from environment variables and passed by value to constructors.
type Settings struct {
	// Panora DEX
	PanoraAPIKey         string
	PanoraAPIURL         string
	PanoraAPIMinInterval time.Duration
	PanoraAPISlippagePct decimal.Decimal

	// Token addresses on Aptos
	AmiTokenAddress  string
	UsdtTokenAddress string
	AptTokenAddress  string

	// CEX settings
	CexSymbol    string
	AptCexSymbol string
	BybitWSURL   string
	MexcRestURL  string

	// Fees (proportional rates)
	BybitFee  decimal.Decimal
	MexcFee   decimal.Decimal
	PanoraFee decimal.Decimal

	// Loop cadences
	PanoraPollInterval time.Duration
	MexcPollInterval   time.Duration
	ArbCheckInterval   time.Duration
	HeartbeatInterval  time.Duration

	// Detection gates
	MinProfitThreshold   decimal.Decimal
	SlippageTolerancePct decimal.Decimal
	VerifyCooldown       time.Duration
	SkipPanoraVerify     bool

	// Quote freshness thresholds
	ExecQuoteMaxAge             time.Duration
	DexCexQuoteMaxAge           time.Duration
	TriQuoteMaxAge              time.Duration
	QuotePriceDeviationThreshPct decimal.Decimal

	// Trade execution
	DryRun          bool
	TradeAmountUSDT decimal.Decimal

	// Bybit API credentials
	BybitAPIKey    string
	BybitAPISecret string

	// MEXC API credentials
	MexcAPIKey    string
	MexcAPISecret string

	// Aptos wallet
	AptosPrivateKey    string
	AptosWalletAddress string
	AptosNodeURL       string
	AptosMaxGas        uint64

	// Operational
	LogLevel      string
	SignalLogPath string
	NatsURL       string
}

// Load builds Settings from the environment. Every key has a default
// so the bot can start in dry-run mode with no configuration at all.
func Load() Settings {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("panora_api_key", "")
	v.SetDefault("panora_api_url", "https://api.panora.exchange/swap")
	v.SetDefault("panora_api_min_interval", 0.5)
	v.SetDefault("panora_api_slippage_pct", "1.0")

	v.SetDefault("ami_token_address", "0xb36527754eb54d7ff55daf13bcb54b42b88ec484bd6f0e3b2e0d1db169de6451")
	v.SetDefault("usdt_token_address", "0x357b0b74bc833e95a115ad22604854d6b0fca151cecd94111770e5d6ffc9dc2b")
	v.SetDefault("apt_token_address", "0x1::aptos_coin::AptosCoin")

	v.SetDefault("cex_symbol", "AMIUSDT")
	v.SetDefault("apt_cex_symbol", "APTUSDT")
	v.SetDefault("bybit_ws_url", "wss://stream.bybit.com/v5/public/spot")
	v.SetDefault("mexc_rest_url", "https://api.mexc.com/api/v3/ticker/bookTicker")

	v.SetDefault("bybit_fee", "0.001")
	v.SetDefault("mexc_fee", "0.001")
	v.SetDefault("panora_fee", "0.003")

	v.SetDefault("panora_poll_interval", 1.33)
	v.SetDefault("mexc_poll_interval", 0.4)
	v.SetDefault("arb_check_interval", 0.1)
	v.SetDefault("heartbeat_interval", 5.0)

	v.SetDefault("min_profit_threshold", "1.0")
	v.SetDefault("slippage_tolerance_pct", "1.0")
	v.SetDefault("verify_cooldown_s", 3.0)
	v.SetDefault("skip_panora_verify", false)

	v.SetDefault("exec_quote_max_age_s", 5.0)
	v.SetDefault("dex_cex_quote_max_age_s", 3.0)
	v.SetDefault("tri_quote_max_age_s", 3.0)
	v.SetDefault("quote_price_deviation_threshold_pct", "2.0")

	v.SetDefault("dry_run", true)
	v.SetDefault("trade_amount_usdt", "10.0")

	v.SetDefault("bybit_api_key", "")
	v.SetDefault("bybit_api_secret", "")
	v.SetDefault("mexc_api_key", "")
	v.SetDefault("mexc_api_secret", "")

	v.SetDefault("aptos_private_key", "")
	v.SetDefault("aptos_wallet_address", "")
	v.SetDefault("aptos_node_url", "https://fullnode.mainnet.aptoslabs.com/v1")
	v.SetDefault("aptos_max_gas", 200000)

	v.SetDefault("log_level", "info")
	v.SetDefault("signal_log_path", "logs/signals.jsonl")
	v.SetDefault("nats_url", "")

	return Settings{
		PanoraAPIKey:         v.GetString("panora_api_key"),
		PanoraAPIURL:         v.GetString("panora_api_url"),
		PanoraAPIMinInterval: seconds(v.GetFloat64("panora_api_min_interval")),
		PanoraAPISlippagePct: dec(v.GetString("panora_api_slippage_pct")),

		AmiTokenAddress:  v.GetString("ami_token_address"),
		UsdtTokenAddress: v.GetString("usdt_token_address"),
		AptTokenAddress:  v.GetString("apt_token_address"),

		CexSymbol:    v.GetString("cex_symbol"),
		AptCexSymbol: v.GetString("apt_cex_symbol"),
		BybitWSURL:   v.GetString("bybit_ws_url"),
		MexcRestURL:  v.GetString("mexc_rest_url"),

		BybitFee:  dec(v.GetString("bybit_fee")),
		MexcFee:   dec(v.GetString("mexc_fee")),
		PanoraFee: dec(v.GetString("panora_fee")),

		PanoraPollInterval: seconds(v.GetFloat64("panora_poll_interval")),
		MexcPollInterval:   seconds(v.GetFloat64("mexc_poll_interval")),
		ArbCheckInterval:   seconds(v.GetFloat64("arb_check_interval")),
		HeartbeatInterval:  seconds(v.GetFloat64("heartbeat_interval")),

		MinProfitThreshold:   dec(v.GetString("min_profit_threshold")),
		SlippageTolerancePct: dec(v.GetString("slippage_tolerance_pct")),
		VerifyCooldown:       seconds(v.GetFloat64("verify_cooldown_s")),
		SkipPanoraVerify:     v.GetBool("skip_panora_verify"),

		ExecQuoteMaxAge:              seconds(v.GetFloat64("exec_quote_max_age_s")),
		DexCexQuoteMaxAge:            seconds(v.GetFloat64("dex_cex_quote_max_age_s")),
		TriQuoteMaxAge:               seconds(v.GetFloat64("tri_quote_max_age_s")),
		QuotePriceDeviationThreshPct: dec(v.GetString("quote_price_deviation_threshold_pct")),

		DryRun:          v.GetBool("dry_run"),
		TradeAmountUSDT: dec(v.GetString("trade_amount_usdt")),

		BybitAPIKey:    v.GetString("bybit_api_key"),
		BybitAPISecret: v.GetString("bybit_api_secret"),
		MexcAPIKey:     v.GetString("mexc_api_key"),
		MexcAPISecret:  v.GetString("mexc_api_secret"),

		AptosPrivateKey:    v.GetString("aptos_private_key"),
		AptosWalletAddress: v.GetString("aptos_wallet_address"),
		AptosNodeURL:       v.GetString("aptos_node_url"),
		AptosMaxGas:        v.GetUint64("aptos_max_gas"),

		LogLevel:      v.GetString("log_level"),
		SignalLogPath: v.GetString("signal_log_path"),
		NatsURL:       v.GetString("nats_url"),
	}
}

// BybitEnabled reports whether live Bybit trading is configured.
func (s Settings) BybitEnabled() bool {
	return s.BybitAPIKey != "" && s.BybitAPISecret != ""
}

// MexcEnabled reports whether live MEXC trading is configured.
func (s Settings) MexcEnabled() bool {
	return s.MexcAPIKey != "" && s.MexcAPISecret != ""
}

// AptosEnabled reports whether on-chain swaps are configured.
func (s Settings) AptosEnabled() bool {
	return s.AptosPrivateKey != ""
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
