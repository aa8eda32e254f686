package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/config"
	"github.com/kemkene/arb-ami/internal/engine"
	"github.com/kemkene/arb-ami/internal/executor"
	"github.com/kemkene/arb-ami/internal/feeds"
	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/pkg/natspub"
	"github.com/kemkene/arb-ami/pkg/signals"
	"github.com/kemkene/arb-ami/services/aptos"
	"github.com/kemkene/arb-ami/services/bybit"
	"github.com/kemkene/arb-ami/services/mexc"
	"github.com/kemkene/arb-ami/services/panora"
)

func main() {
	cfg := config.Load()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger := logrus.WithField("component", "main")
	logger.Infof("arb-ami starting | dry_run=%v symbol=%s", cfg.DryRun, cfg.CexSymbol)

	reportAccountStatus(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Infof("received %s, shutting down", s)
		cancel()
	}()

	store := pricestore.New()

	quotes := panora.NewClient(cfg.PanoraAPIURL, cfg.PanoraAPIKey, cfg.PanoraAPIMinInterval, cfg.PanoraPollInterval)
	defer quotes.Close()

	var pub *natspub.Publisher
	if cfg.NatsURL != "" {
		pub, err = natspub.Connect(cfg.NatsURL)
		if err != nil {
			logger.Warnf("NATS unavailable, continuing without it: %v", err)
		} else {
			defer pub.Close()
		}
	}

	var bybitTrader *bybit.Trader
	if cfg.BybitEnabled() {
		bybitTrader = bybit.NewTrader(cfg.BybitAPIKey, cfg.BybitAPISecret)
	}
	var mexcTrader *mexc.Trader
	if cfg.MexcEnabled() {
		mexcTrader = mexc.NewTrader(cfg.MexcAPIKey, cfg.MexcAPISecret)
	}

	var swapper *aptos.Submitter
	if cfg.AptosEnabled() {
		account, err := aptos.LoadAccount(cfg.AptosPrivateKey, cfg.AptosWalletAddress)
		if err != nil {
			logger.Fatalf("failed to load Aptos account: %v", err)
		}
		swapper = aptos.NewSubmitter(aptos.NewClient(cfg.AptosNodeURL), quotes, account)
		swapper.SetGasCap(cfg.AptosMaxGas)
		logger.Infof("aptos wallet loaded: %s", account.Address())
	}

	var sigWriter *signals.Writer
	if cfg.DryRun {
		sigWriter, err = signals.NewWriter(cfg.SignalLogPath)
		if err != nil {
			logger.Fatalf("failed to open signal log: %v", err)
		}
		defer sigWriter.Close()
	}

	exec := executor.New(cfg, bybitTrader, mexcTrader, swapper, sigWriter, pub)
	arb := engine.New(cfg, store, quotes, exec, pub)

	symbols := []string{cfg.CexSymbol, cfg.AptCexSymbol}

	bybitStream := feeds.NewBybitStream(cfg.BybitWSURL, symbols, store)
	go bybitStream.Run(ctx)

	mexcPoller := feeds.NewMexcPoller(cfg.MexcRestURL, symbols, cfg.MexcPollInterval, store)
	go mexcPoller.Run(ctx)

	// One poller per pool; the inverse direction comes for free.
	amiPoller := feeds.NewPanoraPoller(quotes, cfg.AmiTokenAddress, cfg.UsdtTokenAddress, cfg.PanoraPollInterval, true, store)
	go amiPoller.Run(ctx)

	aptPoller := feeds.NewPanoraPoller(quotes, cfg.AptTokenAddress, cfg.AmiTokenAddress, cfg.PanoraPollInterval, true, store)
	go aptPoller.Run(ctx)

	arb.Run(ctx)

	// Let legs already placed finish their hedges before exiting.
	exec.Drain()

	logger.Info("arb-ami stopped")
}

// reportAccountStatus logs which credential combinations are present
// so a misconfigured deployment is obvious at startup.
func reportAccountStatus(logger *logrus.Entry, cfg config.Settings) {
	cex := cfg.BybitEnabled() || cfg.MexcEnabled()

	switch {
	case !cex && !cfg.AptosEnabled():
		logger.Warn("no trading accounts configured: detection and signals only")
	case cfg.AptosEnabled() && !cex:
		logger.Warn("Aptos wallet configured but no CEX credentials: CEX legs will be skipped")
	case cex && !cfg.AptosEnabled():
		logger.Warn("CEX credentials configured but no Aptos wallet: DEX legs will be skipped")
	}

	logger.Infof("accounts | bybit=%v mexc=%v aptos=%v", cfg.BybitEnabled(), cfg.MexcEnabled(), cfg.AptosEnabled())
}
