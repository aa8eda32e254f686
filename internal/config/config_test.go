package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()

	assert.Equal(t, "AMIUSDT", s.CexSymbol)
	assert.Equal(t, "APTUSDT", s.AptCexSymbol)
	assert.True(t, s.DryRun)
	assert.Equal(t, "0.001", s.BybitFee.String())
	assert.Equal(t, "0.003", s.PanoraFee.String())
	assert.Equal(t, 100*time.Millisecond, s.ArbCheckInterval)
	assert.Equal(t, uint64(200000), s.AptosMaxGas)
	assert.Equal(t, "10", s.TradeAmountUSDT.String())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BYBIT_FEE", "0.0018")
	t.Setenv("CEX_SYMBOL", "DOGEUSDT")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("MEXC_POLL_INTERVAL", "2")

	s := Load()
	assert.Equal(t, "0.0018", s.BybitFee.String())
	assert.Equal(t, "DOGEUSDT", s.CexSymbol)
	assert.False(t, s.DryRun)
	assert.Equal(t, 2*time.Second, s.MexcPollInterval)
}

func TestEnableFlags(t *testing.T) {
	var s Settings
	assert.False(t, s.BybitEnabled())
	assert.False(t, s.MexcEnabled())
	assert.False(t, s.AptosEnabled())

	s.BybitAPIKey = "k"
	s.BybitAPISecret = "s"
	s.AptosPrivateKey = "0xabc"
	assert.True(t, s.BybitEnabled())
	assert.False(t, s.MexcEnabled())
	assert.True(t, s.AptosEnabled())
}
