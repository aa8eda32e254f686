package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/config"
	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/pkg/natspub"
	"github.com/kemkene/arb-ami/pkg/signals"
	"github.com/kemkene/arb-ami/services/aptos"
	"github.com/kemkene/arb-ami/services/bybit"
	"github.com/kemkene/arb-ami/services/mexc"
	"github.com/kemkene/arb-ami/services/panora"
)

const (
	ShapeCexCex     = "cex_cex"
	ShapeDexCex     = "dex_cex"
	ShapeTriangular = "triangular"

	DirBuyDexSellCex = "BUY_DEX_SELL_CEX"
	DirBuyCexSellDex = "BUY_CEX_SELL_DEX"
	DirAptToAmi      = "APT->AMI"
	DirAmiToApt      = "AMI->APT"
)

// legTimeout bounds each individual order or swap so one stuck venue
// can't pin the whole trade open.
const legTimeout = 30 * time.Second

const tokenDecimals = 8

const (
	sideBuy  = "buy"
	sideSell = "sell"
)

// CexCexTask is a two-exchange trade: buy the full available depth on
// the cheap venue, sell it on the expensive one.
type CexCexTask struct {
	Symbol    string
	BuyVenue  string
	SellVenue string
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Qty       decimal.Decimal
	EstProfit decimal.Decimal
}

// DexCexTask trades the primary token between Panora and one CEX.
// Prefetched carries the verification quote so the on-chain leg can
// reuse its transaction payload instead of spending another API call.
type DexCexTask struct {
	Direction  string
	CexVenue   string
	Symbol     string
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	Qty        decimal.Decimal
	EstProfit  decimal.Decimal
	Prefetched *panora.Quote
}

// TriangularTask routes value through APT: one on-chain swap between
// APT and the primary token, hedged by a single CEX sale of the
// output. The wallet must already hold the swap input and the CEX
// account the hedge asset; the balance gate checks both up front.
type TriangularTask struct {
	Direction   string
	CexVenue    string
	DexFromAddr string
	DexToAddr   string
	DexInQty    decimal.Decimal
	CexSymbol   string
	CexSellQty  decimal.Decimal
	BuyPrice    decimal.Decimal
	SellPrice   decimal.Decimal
	EstProfit   decimal.Decimal
	Prefetched  *panora.Quote
}

// Executor places the orders for detected opportunities. In dry-run
// mode it records a signal instead of trading; all sizing, gating and
// flooring still runs so dry-run output mirrors live behaviour.
type Executor struct {
	settings config.Settings
	bybit    *bybit.Trader
	mexc     *mexc.Trader
	swapper  *aptos.Submitter
	signals  *signals.Writer
	nats     *natspub.Publisher
	logger   *logrus.Entry

	// triMu serializes triangular trades: a second opportunity that
	// fires while one is in flight is dropped, not queued.
	triMu sync.Mutex

	// inflight counts executions in progress so shutdown can wait for
	// them instead of leaving half-placed positions behind.
	inflight sync.WaitGroup
}

func New(settings config.Settings, bybitTrader *bybit.Trader, mexcTrader *mexc.Trader, swapper *aptos.Submitter, sig *signals.Writer, pub *natspub.Publisher) *Executor {
	return &Executor{
		settings: settings,
		bybit:    bybitTrader,
		mexc:     mexcTrader,
		swapper:  swapper,
		signals:  sig,
		nats:     pub,
		logger:   logrus.WithField("component", "executor"),
	}
}

// safeQty caps the base quantity at TRADE_AMOUNT_USDT worth and floors
// it to order precision. A zero result means the trade is too small to
// place at all.
func (e *Executor) safeQty(qty, buyPrice decimal.Decimal) decimal.Decimal {
	if buyPrice.IsPositive() {
		maxQty := e.settings.TradeAmountUSDT.Div(buyPrice)
		if maxQty.LessThan(qty) {
			qty = maxQty
		}
	}
	return FloorQty(qty)
}

// ExecuteCexCex runs both legs of a two-exchange trade concurrently.
// Returns true only when both market orders were accepted.
func (e *Executor) ExecuteCexCex(ctx context.Context, task CexCexTask) bool {
	e.inflight.Add(1)
	defer e.inflight.Done()

	qty := e.safeQty(task.Qty, task.BuyPrice)
	if qty.IsZero() {
		e.logger.Warnf("cex-cex %s: qty floored to zero, skipping", task.Symbol)
		return false
	}

	if e.settings.DryRun {
		e.emitSignal(ShapeCexCex, task.BuyVenue+">"+task.SellVenue, task.Symbol,
			task.BuyVenue, task.SellVenue, task.BuyPrice, task.SellPrice, qty, task.EstProfit, "")
		return true
	}

	buyID, buyErr, sellID, sellErr := e.runPair(
		func(ctx context.Context) (string, error) {
			return e.cexOrder(ctx, task.BuyVenue, task.Symbol, sideBuy, qty)
		},
		func(ctx context.Context) (string, error) {
			return e.cexOrder(ctx, task.SellVenue, task.Symbol, sideSell, qty)
		},
	)

	switch {
	case buyErr == nil && sellErr == nil:
		e.logger.Infof("cex-cex filled | %s buy %s@%s sell %s@%s qty=%s orders=%s/%s",
			task.Symbol, task.BuyVenue, task.BuyPrice, task.SellVenue, task.SellPrice, qty, buyID, sellID)
		return true
	case buyErr != nil && sellErr != nil:
		e.logger.Errorf("cex-cex failed on both legs | buy: %v | sell: %v", buyErr, sellErr)
		return false
	default:
		e.logger.Errorf("cex-cex PARTIAL FILL: one leg rejected, position is open | buy(%s)=%v sell(%s)=%v",
			task.BuyVenue, errOrID(buyID, buyErr), task.SellVenue, errOrID(sellID, sellErr))
		return false
	}
}

// ExecuteDexCex runs the on-chain swap and the CEX hedge concurrently.
func (e *Executor) ExecuteDexCex(ctx context.Context, task DexCexTask) bool {
	e.inflight.Add(1)
	defer e.inflight.Done()

	qty := e.safeQty(task.Qty, task.BuyPrice)
	if qty.IsZero() {
		e.logger.Warnf("dex-cex %s: qty floored to zero, skipping", task.Direction)
		return false
	}

	buyVenue, sellVenue := pricestore.VenuePanora, task.CexVenue
	if task.Direction == DirBuyCexSellDex {
		buyVenue, sellVenue = task.CexVenue, pricestore.VenuePanora
	}

	if e.settings.DryRun {
		e.emitSignal(ShapeDexCex, task.Direction, task.Symbol,
			buyVenue, sellVenue, task.BuyPrice, task.SellPrice, qty, task.EstProfit, "")
		return true
	}

	if e.swapper == nil {
		e.logger.Error("dex-cex: aptos swapper not configured")
		return false
	}
	task.Prefetched = e.freshPrefetched(task.Prefetched)

	var dexLeg, cexLeg func(context.Context) (string, error)
	if task.Direction == DirBuyDexSellCex {
		usdtToSpend := qty.Mul(task.BuyPrice)
		dexLeg = func(ctx context.Context) (string, error) {
			return e.swapper.ExecuteSwap(ctx, usdtToSpend,
				e.settings.UsdtTokenAddress, e.settings.AmiTokenAddress,
				e.settings.PanoraAPISlippagePct, task.Prefetched)
		}
		cexLeg = func(ctx context.Context) (string, error) {
			return e.cexOrder(ctx, task.CexVenue, task.Symbol, sideSell, qty)
		}
	} else {
		dexLeg = func(ctx context.Context) (string, error) {
			return e.swapper.ExecuteSwap(ctx, qty,
				e.settings.AmiTokenAddress, e.settings.UsdtTokenAddress,
				e.settings.PanoraAPISlippagePct, task.Prefetched)
		}
		cexLeg = func(ctx context.Context) (string, error) {
			return e.cexOrder(ctx, task.CexVenue, task.Symbol, sideBuy, qty)
		}
	}

	dexID, dexErr, cexID, cexErr := e.runPair(dexLeg, cexLeg)

	switch {
	case dexErr == nil && cexErr == nil:
		e.logger.Infof("dex-cex filled | %s qty=%s tx=%s order=%s", task.Direction, qty, dexID, cexID)
		return true
	case dexErr != nil && cexErr != nil:
		e.logger.Errorf("dex-cex failed on both legs | dex: %v | cex: %v", dexErr, cexErr)
		return false
	default:
		e.logger.Errorf("dex-cex PARTIAL FILL: one leg rejected, position is open | dex=%v cex=%v",
			errOrID(dexID, dexErr), errOrID(cexID, cexErr))
		return false
	}
}

// ExecuteTriangular runs the two legs sequentially: the on-chain swap
// first, then the CEX hedge of its output. A trade already in flight
// causes the new one to be dropped.
func (e *Executor) ExecuteTriangular(ctx context.Context, task TriangularTask) bool {
	e.inflight.Add(1)
	defer e.inflight.Done()

	if !e.triMu.TryLock() {
		e.logger.Warnf("triangular %s dropped: another triangular trade in flight", task.Direction)
		return false
	}
	defer e.triMu.Unlock()

	dexQty := FloorQty(task.DexInQty)
	cexQty := FloorQty(task.CexSellQty)
	if dexQty.IsZero() || cexQty.IsZero() {
		e.logger.Warnf("triangular %s: leg qty floored to zero (dex=%s cex=%s), skipping",
			task.Direction, dexQty, cexQty)
		return false
	}

	gateOK, gateDetail := e.balanceGate(ctx, task, dexQty, cexQty)

	if e.settings.DryRun {
		gate := "PASS"
		if !gateOK {
			gate = "FAIL: " + gateDetail
		}
		e.emitSignal(ShapeTriangular, task.Direction, task.CexSymbol,
			pricestore.VenuePanora, task.CexVenue, task.BuyPrice, task.SellPrice, dexQty, task.EstProfit, gate)
		return true
	}

	if !gateOK {
		e.logger.Warnf("triangular %s blocked by balance gate: %s", task.Direction, gateDetail)
		return false
	}
	if e.swapper == nil {
		e.logger.Error("triangular: aptos swapper not configured")
		return false
	}

	// Legs run detached from the caller's lifetime: once the swap is
	// submitted the hedge must follow even during shutdown, bounded
	// only by the per-leg timeout.
	dexCtx, cancelDex := context.WithTimeout(context.Background(), legTimeout)
	txHash, err := e.swapper.ExecuteSwap(dexCtx, dexQty, task.DexFromAddr, task.DexToAddr,
		e.settings.PanoraAPISlippagePct, e.freshPrefetched(task.Prefetched))
	cancelDex()
	if err != nil {
		e.logger.Errorf("triangular %s aborted: DEX leg failed before any CEX order: %v", task.Direction, err)
		return false
	}

	cexCtx, cancelCex := context.WithTimeout(context.Background(), legTimeout)
	orderID, err := e.cexOrder(cexCtx, task.CexVenue, task.CexSymbol, sideSell, cexQty)
	cancelCex()
	if err != nil {
		e.logger.Errorf("triangular %s POSITION IMBALANCE: DEX swap %s confirmed but CEX hedge failed: %v",
			task.Direction, txHash, err)
		return false
	}

	e.logger.Infof("triangular %s filled | tx=%s order=%s dexQty=%s cexQty=%s est_profit=%s",
		task.Direction, txHash, orderID, dexQty, cexQty, task.EstProfit)
	return true
}

// Drain blocks until every in-flight execution has finished, waiting
// at most one leg timeout. Call it after the scan loop stops so legs
// already placed can complete their hedges before the process exits.
func (e *Executor) Drain() {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(legTimeout):
		e.logger.Warn("shutdown with executions still in flight")
	}
}

// freshPrefetched drops a prefetched quote that has aged past the
// execution freshness bound, so the swap refetches instead of
// submitting a payload priced off a dead book.
func (e *Executor) freshPrefetched(q *panora.Quote) *panora.Quote {
	if q == nil || e.settings.ExecQuoteMaxAge <= 0 {
		return q
	}
	if age := time.Since(q.FetchedAt); age > e.settings.ExecQuoteMaxAge {
		e.logger.Warnf("prefetched quote is %s old (max %s), refetching", age.Round(time.Millisecond), e.settings.ExecQuoteMaxAge)
		return nil
	}
	return q
}

// balanceGate checks that the wallet holds the swap input and the CEX
// account holds the hedge asset before any leg is placed.
func (e *Executor) balanceGate(ctx context.Context, task TriangularTask, dexQty, cexQty decimal.Decimal) (bool, string) {
	if e.swapper == nil {
		return false, "aptos wallet not configured"
	}

	wallet := e.swapper.Account().Address()
	have, err := e.swapper.Client().TokenBalance(ctx, wallet, task.DexFromAddr, tokenDecimals)
	if err != nil {
		return false, fmt.Sprintf("wallet balance check failed: %v", err)
	}
	if have.LessThan(dexQty) {
		return false, fmt.Sprintf("wallet holds %s of swap input, need %s", have, dexQty)
	}

	hedgeCoin := BaseCoin(task.CexSymbol)
	balances, err := e.cexBalances(ctx, task.CexVenue)
	if err != nil {
		return false, fmt.Sprintf("%s balance check failed: %v", task.CexVenue, err)
	}
	if balances[hedgeCoin].LessThan(cexQty) {
		return false, fmt.Sprintf("%s holds %s %s, need %s", task.CexVenue, balances[hedgeCoin], hedgeCoin, cexQty)
	}

	return true, ""
}

// runPair executes two legs concurrently, each under its own timeout.
func (e *Executor) runPair(first, second func(context.Context) (string, error)) (string, error, string, error) {
	var (
		wg                  sync.WaitGroup
		firstID, secondID   string
		firstErr, secondErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), legTimeout)
		defer cancel()
		firstID, firstErr = first(ctx)
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), legTimeout)
		defer cancel()
		secondID, secondErr = second(ctx)
	}()
	wg.Wait()

	return firstID, firstErr, secondID, secondErr
}

// cexOrder places a base-quantity market order on the named venue.
func (e *Executor) cexOrder(ctx context.Context, venue, symbol, side string, qty decimal.Decimal) (string, error) {
	switch venue {
	case pricestore.VenueBybit:
		if e.bybit == nil {
			return "", fmt.Errorf("bybit trading not configured")
		}
		s := bybit.SideBuy
		if side == sideSell {
			s = bybit.SideSell
		}
		return e.bybit.PlaceMarketOrder(ctx, symbol, s, qty, bybit.MarketUnitBase)
	case pricestore.VenueMexc:
		if e.mexc == nil {
			return "", fmt.Errorf("mexc trading not configured")
		}
		s := mexc.SideBuy
		if side == sideSell {
			s = mexc.SideSell
		}
		return e.mexc.PlaceMarketOrder(ctx, symbol, s, qty, false)
	default:
		return "", fmt.Errorf("unknown venue %q", venue)
	}
}

func (e *Executor) cexBalances(ctx context.Context, venue string) (map[string]decimal.Decimal, error) {
	switch venue {
	case pricestore.VenueBybit:
		if e.bybit == nil {
			return nil, fmt.Errorf("bybit trading not configured")
		}
		return e.bybit.GetBalances(ctx)
	case pricestore.VenueMexc:
		if e.mexc == nil {
			return nil, fmt.Errorf("mexc trading not configured")
		}
		return e.mexc.GetBalances(ctx)
	default:
		return nil, fmt.Errorf("unknown venue %q", venue)
	}
}

func (e *Executor) emitSignal(shape, direction, symbol, buyVenue, sellVenue string, buyPrice, sellPrice, qty, profit decimal.Decimal, gate string) {
	rec := signals.Record{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Shape:       shape,
		Direction:   direction,
		Symbol:      symbol,
		BuyVenue:    buyVenue,
		SellVenue:   sellVenue,
		BuyPrice:    buyPrice,
		SellPrice:   sellPrice,
		Qty:         qty,
		ProfitUSDT:  profit,
		DryRun:      true,
		BalanceGate: gate,
	}

	if e.signals != nil {
		if err := e.signals.Write(rec); err != nil {
			e.logger.Errorf("failed to record signal: %v", err)
		}
	} else {
		e.logger.WithFields(logrus.Fields{
			"shape":     shape,
			"direction": direction,
			"profit":    profit.String(),
		}).Info("signal (no writer configured)")
	}

	e.nats.PublishSignal(shape, rec)
}

func errOrID(id string, err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok:" + id
}
