package signals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Record is one detected-and-gated opportunity, written when the bot
// runs in dry-run mode instead of placing orders.
type Record struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Shape       string          `json:"shape"`
	Direction   string          `json:"direction"`
	Symbol      string          `json:"symbol"`
	BuyVenue    string          `json:"buy_venue"`
	SellVenue   string          `json:"sell_venue"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Qty         decimal.Decimal `json:"qty"`
	ProfitUSDT  decimal.Decimal `json:"profit_usdt"`
	DryRun      bool            `json:"dry_run"`
	BalanceGate string          `json:"balance_gate,omitempty"`
}

// Writer appends newline-delimited JSON records to a log file and
// echoes each record to the process log.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	logger *logrus.Entry
}

func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create signal log dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open signal log: %w", err)
	}

	return &Writer{
		file:   f,
		logger: logrus.WithField("component", "signals"),
	}, nil
}

// Write appends one record. The file stays intact across restarts.
func (w *Writer) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append signal: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"shape":     rec.Shape,
		"direction": rec.Direction,
		"symbol":    rec.Symbol,
		"profit":    rec.ProfitUSDT.String(),
	}).Info("signal recorded")

	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
