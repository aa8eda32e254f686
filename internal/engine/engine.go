package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/config"
	"github.com/kemkene/arb-ami/internal/executor"
	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/pkg/natspub"
	"github.com/kemkene/arb-ami/services/panora"
)

var (
	hundredPct = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// Dispatcher places the trades the engine detects. Execution runs in
// its own goroutine so a slow venue never blocks the scan loop.
type Dispatcher interface {
	ExecuteCexCex(ctx context.Context, task executor.CexCexTask) bool
	ExecuteDexCex(ctx context.Context, task executor.DexCexTask) bool
	ExecuteTriangular(ctx context.Context, task executor.TriangularTask) bool
}

// Engine scans the price store for three opportunity shapes: a price
// gap between the two CEXes, a gap between Panora and one CEX, and a
// triangular route through APT. Candidates above the profit threshold
// are re-verified against a live Panora quote before dispatch.
type Engine struct {
	settings config.Settings
	store    *pricestore.Store
	quotes   *panora.Client
	exec     Dispatcher
	nats     *natspub.Publisher
	logger   *logrus.Entry

	cexVenues []string

	// dexAmiSymbol prices 1 AMI in USDT, dexAptAmiSymbol 1 APT in AMI.
	dexAmiSymbol    string
	dexAptAmiSymbol string
	dexAmiAptSymbol string

	mu        sync.Mutex
	cooldowns map[string]time.Time

	lastHeartbeat time.Time
}

func New(settings config.Settings, store *pricestore.Store, quotes *panora.Client, exec Dispatcher, pub *natspub.Publisher) *Engine {
	return &Engine{
		settings:        settings,
		store:           store,
		quotes:          quotes,
		exec:            exec,
		nats:            pub,
		logger:          logrus.WithField("component", "engine"),
		cexVenues:       []string{pricestore.VenueBybit, pricestore.VenueMexc},
		dexAmiSymbol:    pricestore.DexSymbol(settings.AmiTokenAddress, settings.UsdtTokenAddress),
		dexAptAmiSymbol: pricestore.DexSymbol(settings.AptTokenAddress, settings.AmiTokenAddress),
		dexAmiAptSymbol: pricestore.DexSymbol(settings.AmiTokenAddress, settings.AptTokenAddress),
		cooldowns:       make(map[string]time.Time),
		lastHeartbeat:   time.Now(),
	}
}

// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Infof("started | check_interval=%s threshold=%s USDT dry_run=%v",
		e.settings.ArbCheckInterval, e.settings.MinProfitThreshold, e.settings.DryRun)

	ticker := time.NewTicker(e.settings.ArbCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scan(ctx)
			e.maybeHeartbeat()
		}
	}
}

func (e *Engine) scan(ctx context.Context) {
	e.checkCexCex(ctx)
	for _, venue := range e.cexVenues {
		e.checkDexCex(ctx, venue)
		e.checkTriangular(ctx, venue, executor.DirAptToAmi)
		e.checkTriangular(ctx, venue, executor.DirAmiToApt)
	}
}

func (e *Engine) feeFor(venue string) decimal.Decimal {
	switch venue {
	case pricestore.VenueBybit:
		return e.settings.BybitFee
	case pricestore.VenueMexc:
		return e.settings.MexcFee
	default:
		return e.settings.PanoraFee
	}
}

// checkCexCex compares top-of-book between the two CEXes in both
// directions. Quantity is the overlap of the ask depth on the buy
// side and the bid depth on the sell side.
func (e *Engine) checkCexCex(ctx context.Context) {
	symbol := e.settings.CexSymbol
	maxAge := e.settings.ExecQuoteMaxAge

	for _, pair := range [][2]string{
		{pricestore.VenueBybit, pricestore.VenueMexc},
		{pricestore.VenueMexc, pricestore.VenueBybit},
	} {
		buyVenue, sellVenue := pair[0], pair[1]

		buyQ, ok := e.store.GetVenue(symbol, buyVenue)
		if !ok || buyQ.IsStale(maxAge) {
			continue
		}
		sellQ, ok := e.store.GetVenue(symbol, sellVenue)
		if !ok || sellQ.IsStale(maxAge) {
			continue
		}
		if !buyQ.Ask.IsPositive() || !sellQ.Bid.IsPositive() {
			continue
		}

		qty := decimal.Min(buyQ.AskQty, sellQ.BidQty)
		if !qty.IsPositive() {
			continue
		}

		profit := CalcProfit(buyQ.Ask, sellQ.Bid, qty, e.feeFor(buyVenue), e.feeFor(sellVenue))
		if profit.LessThanOrEqual(e.settings.MinProfitThreshold) {
			continue
		}

		e.logger.Infof("ARB cex-cex | buy %s@%s sell %s@%s qty=%s profit=%s USDT",
			buyVenue, buyQ.Ask, sellVenue, sellQ.Bid, qty, profit)

		task := executor.CexCexTask{
			Symbol:    symbol,
			BuyVenue:  buyVenue,
			SellVenue: sellVenue,
			BuyPrice:  buyQ.Ask,
			SellPrice: sellQ.Bid,
			Qty:       qty,
			EstProfit: profit,
		}
		go e.exec.ExecuteCexCex(ctx, task)
	}
}

// checkDexCex compares Panora's AMI price against one CEX book in
// both directions. Above-threshold candidates are confirmed with a
// live quote first, unless verification is disabled, in which case a
// fresh quote is still fetched so execution has a payload to submit.
func (e *Engine) checkDexCex(ctx context.Context, venue string) {
	symbol := e.settings.CexSymbol
	maxAge := e.settings.DexCexQuoteMaxAge

	cexQ, ok := e.store.GetVenue(symbol, venue)
	if !ok || cexQ.IsStale(maxAge) {
		return
	}
	dexQ, ok := e.store.GetVenue(e.dexAmiSymbol, pricestore.VenuePanora)
	if !ok || dexQ.IsStale(maxAge) {
		return
	}
	if !dexQ.Ask.IsPositive() || !cexQ.Ask.IsPositive() {
		return
	}

	// Buy on Panora, sell on the CEX.
	qty := decimal.Min(cexQ.BidQty, pricestore.DexQtySentinel)
	if qty.IsPositive() {
		profit := CalcProfit(dexQ.Ask, cexQ.Bid, qty, e.settings.PanoraFee, e.feeFor(venue))
		if profit.GreaterThan(e.settings.MinProfitThreshold) {
			e.dispatchDexCex(ctx, executor.DexCexTask{
				Direction: executor.DirBuyDexSellCex,
				CexVenue:  venue,
				Symbol:    symbol,
				BuyPrice:  dexQ.Ask,
				SellPrice: cexQ.Bid,
				Qty:       qty,
				EstProfit: profit,
			})
		}
	}

	// Buy on the CEX, sell on Panora.
	qty = decimal.Min(cexQ.AskQty, pricestore.DexQtySentinel)
	if qty.IsPositive() {
		profit := CalcProfit(cexQ.Ask, dexQ.Bid, qty, e.feeFor(venue), e.settings.PanoraFee)
		if profit.GreaterThan(e.settings.MinProfitThreshold) {
			e.dispatchDexCex(ctx, executor.DexCexTask{
				Direction: executor.DirBuyCexSellDex,
				CexVenue:  venue,
				Symbol:    symbol,
				BuyPrice:  cexQ.Ask,
				SellPrice: dexQ.Bid,
				Qty:       qty,
				EstProfit: profit,
			})
		}
	}
}

// dispatchDexCex runs the pre-trade quote check for one candidate and
// hands it to the executor when it survives.
func (e *Engine) dispatchDexCex(ctx context.Context, task executor.DexCexTask) {
	if e.quotes == nil {
		return
	}

	if e.settings.SkipPanoraVerify {
		// No price re-check, but execution still needs a payload:
		// fetch a fresh quote with the slippage hint and go.
		quote := e.fetchExecQuote(ctx, task)
		if quote == nil {
			return
		}
		task.Prefetched = quote
		e.logger.Infof("ARB dex-cex (verify skipped) | %s %s qty=%s profit=%s USDT",
			task.Direction, task.CexVenue, task.Qty, task.EstProfit)
		go e.exec.ExecuteDexCex(ctx, task)
		return
	}

	if !e.cooldownReady("dex_cex:" + task.Direction + ":" + task.CexVenue) {
		return
	}

	verified, ok := e.verifyDexCex(ctx, &task)
	if !ok {
		return
	}
	if verified.LessThanOrEqual(e.settings.MinProfitThreshold) {
		e.logger.Warnf("ARB CANCELED after verify | %s %s est=%s verified=%s USDT",
			task.Direction, task.CexVenue, task.EstProfit, verified)
		return
	}

	task.EstProfit = verified
	e.logger.Infof("ARB dex-cex verified | %s %s qty=%s profit=%s USDT",
		task.Direction, task.CexVenue, task.Qty, verified)
	go e.exec.ExecuteDexCex(ctx, task)
}

func (e *Engine) fetchExecQuote(ctx context.Context, task executor.DexCexTask) *panora.Quote {
	opts := panora.QuoteOptions{ForceFresh: true, SlippagePct: e.settings.PanoraAPISlippagePct}

	var (
		quote *panora.Quote
		err   error
	)
	if task.Direction == executor.DirBuyDexSellCex {
		spend := task.Qty.Mul(task.BuyPrice)
		quote, err = e.quotes.GetSwapQuote(ctx, spend, e.settings.UsdtTokenAddress, e.settings.AmiTokenAddress, opts)
	} else {
		quote, err = e.quotes.GetSwapQuote(ctx, task.Qty, e.settings.AmiTokenAddress, e.settings.UsdtTokenAddress, opts)
	}
	if err != nil {
		e.logger.Warnf("exec quote fetch failed | %s: %v", task.Direction, err)
		return nil
	}
	return quote
}

// verifyDexCex re-prices the DEX side of the candidate with a live
// quote at trade size, mutating the task's price, qty and prefetched
// quote. Returns the recomputed profit.
func (e *Engine) verifyDexCex(ctx context.Context, task *executor.DexCexTask) (decimal.Decimal, bool) {
	opts := panora.QuoteOptions{SlippagePct: e.settings.PanoraAPISlippagePct}

	if task.Direction == executor.DirBuyDexSellCex {
		estPrice := task.BuyPrice
		spend := task.Qty.Mul(estPrice)
		quote, err := e.quotes.GetSwapQuote(ctx, spend, e.settings.UsdtTokenAddress, e.settings.AmiTokenAddress, opts)
		if err != nil {
			e.logger.Warnf("verify buy failed: %v", err)
			return decimal.Zero, false
		}
		if !quote.ToTokenAmount.IsPositive() {
			return decimal.Zero, false
		}
		vPrice := spend.Div(quote.ToTokenAmount)
		if !e.slippageOK(task.Direction, estPrice, vPrice) {
			return decimal.Zero, false
		}

		task.BuyPrice = vPrice
		task.Qty = decimal.Min(task.Qty, quote.ToTokenAmount)
		task.Prefetched = quote
		return CalcProfit(vPrice, task.SellPrice, task.Qty, e.settings.PanoraFee, e.feeFor(task.CexVenue)), true
	}

	quote, err := e.quotes.GetSwapQuote(ctx, task.Qty, e.settings.AmiTokenAddress, e.settings.UsdtTokenAddress, opts)
	if err != nil {
		e.logger.Warnf("verify sell failed: %v", err)
		return decimal.Zero, false
	}
	if !task.Qty.IsPositive() || !quote.ToTokenAmount.IsPositive() {
		return decimal.Zero, false
	}
	vPrice := quote.ToTokenAmount.Div(task.Qty)
	if !e.slippageOK(task.Direction, task.SellPrice, vPrice) {
		return decimal.Zero, false
	}

	task.SellPrice = vPrice
	task.Prefetched = quote
	return CalcProfit(task.BuyPrice, vPrice, task.Qty, e.feeFor(task.CexVenue), e.settings.PanoraFee), true
}

// slippageOK compares a verified price against the estimate. Within
// tolerance it is quiet; past tolerance it warns; past the deviation
// threshold the polled book is too far from reality to trade on.
func (e *Engine) slippageOK(direction string, est, verified decimal.Decimal) bool {
	if !est.IsPositive() {
		return true
	}
	slip := verified.Sub(est).Div(est).Mul(hundredPct)

	devThresh := e.settings.QuotePriceDeviationThreshPct
	if devThresh.IsPositive() && slip.Abs().GreaterThan(devThresh) {
		e.logger.Warnf("%s verified price deviates %s%% from polled price, dropping candidate", direction, slip.Round(4))
		return false
	}
	if slip.Abs().GreaterThan(e.settings.SlippageTolerancePct) {
		e.logger.Warnf("%s slippage %s%% (est=%s verified=%s)", direction, slip.Round(4), est, verified)
	}
	return true
}

// checkTriangular prices the APT route on one CEX: buy the input leg
// at the CEX ask, swap it on Panora, sell the output at the CEX bid.
func (e *Engine) checkTriangular(ctx context.Context, venue, direction string) {
	maxAge := e.settings.TriQuoteMaxAge

	aptQ, ok := e.store.GetVenue(e.settings.AptCexSymbol, venue)
	if !ok || aptQ.IsStale(maxAge) {
		return
	}
	amiQ, ok := e.store.GetVenue(e.settings.CexSymbol, venue)
	if !ok || amiQ.IsStale(maxAge) {
		return
	}

	var (
		dexSymbol         string
		entryAsk, exitBid decimal.Decimal
		fromAddr, toAddr  string
		exitSymbol        string
	)
	if direction == executor.DirAptToAmi {
		dexSymbol = e.dexAptAmiSymbol
		entryAsk, exitBid = aptQ.Ask, amiQ.Bid
		fromAddr, toAddr = e.settings.AptTokenAddress, e.settings.AmiTokenAddress
		exitSymbol = e.settings.CexSymbol
	} else {
		dexSymbol = e.dexAmiAptSymbol
		entryAsk, exitBid = amiQ.Ask, aptQ.Bid
		fromAddr, toAddr = e.settings.AmiTokenAddress, e.settings.AptTokenAddress
		exitSymbol = e.settings.AptCexSymbol
	}

	dexQ, ok := e.store.GetVenue(dexSymbol, pricestore.VenuePanora)
	if !ok || dexQ.IsStale(maxAge) {
		return
	}
	if !entryAsk.IsPositive() || !exitBid.IsPositive() || !dexQ.Ask.IsPositive() {
		return
	}

	notional := e.settings.TradeAmountUSDT
	inQty := notional.Div(entryAsk)
	dexRate := dexQ.Ask
	outQty := inQty.Mul(dexRate).Mul(one.Sub(e.settings.PanoraFee))
	profit := e.triProfit(notional, outQty, exitBid, venue)
	if profit.LessThanOrEqual(e.settings.MinProfitThreshold) {
		return
	}

	if e.quotes == nil {
		return
	}
	if !e.cooldownReady("tri:" + direction + ":" + venue) {
		return
	}

	quote, err := e.quotes.GetSwapQuote(ctx, inQty, fromAddr, toAddr,
		panora.QuoteOptions{SlippagePct: e.settings.PanoraAPISlippagePct})
	if err != nil {
		e.logger.Warnf("triangular %s verify failed: %v", direction, err)
		return
	}
	if !quote.ToTokenAmount.IsPositive() {
		return
	}

	vRate := quote.ToTokenAmount.Div(inQty)
	slip := vRate.Sub(dexRate).Div(dexRate).Mul(hundredPct)
	devThresh := e.settings.QuotePriceDeviationThreshPct
	if devThresh.IsPositive() && slip.Abs().GreaterThan(devThresh) {
		e.logger.Warnf("triangular %s verified rate deviates %s%% from polled rate, dropping candidate", direction, slip.Round(4))
		return
	}
	if slip.Abs().GreaterThan(e.settings.SlippageTolerancePct) {
		// Too far from the polled rate to trust either number: reprice
		// with the stored rate haircut by the tolerance.
		vRate = dexRate.Mul(one.Sub(e.settings.SlippageTolerancePct.Div(hundredPct)))
		e.logger.Warnf("triangular %s slippage %s%%, repriced to %s", direction, slip.Round(4), vRate)
	}

	vOut := inQty.Mul(vRate)
	vProfit := e.triProfit(notional, vOut, exitBid, venue)
	if vProfit.LessThanOrEqual(e.settings.MinProfitThreshold) {
		e.logger.Warnf("triangular %s CANCELED after verify | est=%s verified=%s USDT", direction, profit, vProfit)
		return
	}

	e.logger.Infof("ARB triangular | %s via %s in=%s out=%s profit=%s USDT",
		direction, venue, inQty, vOut, vProfit)

	task := executor.TriangularTask{
		Direction:   direction,
		CexVenue:    venue,
		DexFromAddr: fromAddr,
		DexToAddr:   toAddr,
		DexInQty:    inQty,
		CexSymbol:   exitSymbol,
		CexSellQty:  vOut,
		BuyPrice:    entryAsk,
		SellPrice:   exitBid,
		EstProfit:   vProfit,
		Prefetched:  quote,
	}
	go e.exec.ExecuteTriangular(ctx, task)
}

// triProfit nets both CEX fees against the route: the entry buy costs
// notional plus fee, the exit sale yields proceeds minus fee. The DEX
// fee is already netted out of the output quantity.
func (e *Engine) triProfit(notional, outQty, exitBid decimal.Decimal, venue string) decimal.Decimal {
	fee := e.feeFor(venue)
	proceeds := outQty.Mul(exitBid)
	return proceeds.Mul(one.Sub(fee)).Sub(notional.Mul(one.Add(fee)))
}

// cooldownReady reports whether the per-direction verification
// cooldown has elapsed, and arms it when it has.
func (e *Engine) cooldownReady(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.cooldowns[key]; ok && time.Since(last) < e.settings.VerifyCooldown {
		return false
	}
	e.cooldowns[key] = time.Now()
	return true
}

func (e *Engine) maybeHeartbeat() {
	if time.Since(e.lastHeartbeat) < e.settings.HeartbeatInterval {
		return
	}
	e.lastHeartbeat = time.Now()
	e.heartbeat()
}

// heartbeat logs one line per venue and pair, one per DEX direction,
// plus the implied AMI price through the APT route, and publishes the
// same snapshot when a message bus is configured.
func (e *Engine) heartbeat() map[string]interface{} {
	snapshot := map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)}

	for _, symbol := range []string{e.settings.CexSymbol, e.settings.AptCexSymbol} {
		for _, venue := range e.cexVenues {
			if q, ok := e.store.GetVenue(symbol, venue); ok {
				e.logger.Infof("book %-8s %-6s bid=%s ask=%s age=%s", symbol, venue, q.Bid, q.Ask, q.Age().Round(time.Millisecond))
				snapshot[venue+":"+symbol] = map[string]string{"bid": q.Bid.String(), "ask": q.Ask.String()}
			}
		}
	}

	amiDex, amiOK := e.store.GetVenue(e.dexAmiSymbol, pricestore.VenuePanora)
	if amiOK {
		e.logger.Infof("dex  AMI/USDT        price=%s age=%s", amiDex.Bid, amiDex.Age().Round(time.Millisecond))
		snapshot["panora:AMIUSDT"] = amiDex.Bid.String()
	}
	aptDex, aptOK := e.store.GetVenue(e.dexAptAmiSymbol, pricestore.VenuePanora)
	if aptOK {
		e.logger.Infof("dex  APT->AMI        rate=%s age=%s", aptDex.Bid, aptDex.Age().Round(time.Millisecond))
		snapshot["panora:APT->AMI"] = aptDex.Bid.String()
	}
	if amiApt, ok := e.store.GetVenue(e.dexAmiAptSymbol, pricestore.VenuePanora); ok {
		e.logger.Infof("dex  AMI->APT        rate=%s age=%s", amiApt.Bid, amiApt.Age().Round(time.Millisecond))
		snapshot["panora:AMI->APT"] = amiApt.Bid.String()
	}

	// Implied AMI/USDT through the APT cross, when both legs exist.
	if aptOK && aptDex.Bid.IsPositive() {
		for _, venue := range e.cexVenues {
			if aptQ, ok := e.store.GetVenue(e.settings.AptCexSymbol, venue); ok && aptQ.Mid().IsPositive() {
				implied := aptQ.Mid().Div(aptDex.Bid)
				e.logger.Infof("implied AMI/USDT via %s APT cross = %s", venue, implied)
				snapshot["implied:"+venue] = implied.String()
			}
		}
	}

	e.nats.PublishSnapshot(snapshot)
	return snapshot
}
