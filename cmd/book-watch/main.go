package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/config"
	"github.com/kemkene/arb-ami/internal/feeds"
	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/services/panora"
)

// book-watch runs the feeds without the engine and redraws all known
// quotes once a second. Handy for checking venue connectivity before
// arming the bot.
func main() {
	cfg := config.Load()
	logrus.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store := pricestore.New()
	quotes := panora.NewClient(cfg.PanoraAPIURL, cfg.PanoraAPIKey, cfg.PanoraAPIMinInterval, cfg.PanoraPollInterval)
	defer quotes.Close()

	symbols := []string{cfg.CexSymbol, cfg.AptCexSymbol}

	go feeds.NewBybitStream(cfg.BybitWSURL, symbols, store).Run(ctx)
	go feeds.NewMexcPoller(cfg.MexcRestURL, symbols, cfg.MexcPollInterval, store).Run(ctx)
	go feeds.NewPanoraPoller(quotes, cfg.AmiTokenAddress, cfg.UsdtTokenAddress, cfg.PanoraPollInterval, true, store).Run(ctx)
	go feeds.NewPanoraPoller(quotes, cfg.AptTokenAddress, cfg.AmiTokenAddress, cfg.PanoraPollInterval, true, store).Run(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Print("\033[H\033[2J")
			fmt.Println("=== arb-ami book watch ===")
			fmt.Printf("Time: %s\n\n", time.Now().Format("15:04:05"))
			fmt.Printf("%-12s %-8s %-14s %-14s %-12s %-12s %-8s\n",
				"Symbol", "Venue", "Bid", "Ask", "BidQty", "AskQty", "Age")

			for _, symbol := range store.Symbols() {
				for venue, q := range store.Get(symbol) {
					fmt.Printf("%-12s %-8s %-14s %-14s %-12s %-12s %-8s\n",
						symbol, venue, q.Bid, q.Ask, q.BidQty, q.AskQty,
						q.Age().Round(100*time.Millisecond))
				}
			}
			fmt.Println("\nPress Ctrl+C to exit")
		}
	}
}
