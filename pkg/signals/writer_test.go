package signals

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "signals.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)

	rec := Record{
		ID:         "s-1",
		Timestamp:  time.Now().UTC(),
		Shape:      "cex_cex",
		Direction:  "bybit->mexc",
		Symbol:     "AMIUSDT",
		BuyVenue:   "bybit",
		SellVenue:  "mexc",
		BuyPrice:   decimal.RequireFromString("1.00"),
		SellPrice:  decimal.RequireFromString("1.02"),
		Qty:        decimal.RequireFromString("500"),
		ProfitUSDT: decimal.RequireFromString("9.4"),
		DryRun:     true,
	}
	require.NoError(t, w.Write(rec))

	rec.ID = "s-2"
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	// Reopen appends rather than truncates.
	w2, err := NewWriter(path)
	require.NoError(t, err)
	rec.ID = "s-3"
	require.NoError(t, w2.Write(rec))
	require.NoError(t, w2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var got Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		ids = append(ids, got.ID)
	}
	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, ids)
}
