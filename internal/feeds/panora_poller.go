package feeds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kemkene/arb-ami/internal/pricestore"
	"github.com/kemkene/arb-ami/services/panora"
)

const heartbeatEveryPolls = 10

// PanoraPoller samples one DEX direction by quoting 1.0 of the from
// token each tick. Being an AMM there is no book, so bid == ask and
// quantities use the depth sentinel. With updateInverse set, the
// reciprocal price is also written under the reversed key: one poll
// covers both directions of the pool.
type PanoraPoller struct {
	client        *panora.Client
	fromAddr      string
	toAddr        string
	interval      time.Duration
	updateInverse bool
	store         *pricestore.Store
	logger        *logrus.Entry

	symbol        string
	inverseSymbol string
	pollCount     int
}

func NewPanoraPoller(client *panora.Client, fromAddr, toAddr string, interval time.Duration, updateInverse bool, store *pricestore.Store) *PanoraPoller {
	return &PanoraPoller{
		client:        client,
		fromAddr:      fromAddr,
		toAddr:        toAddr,
		interval:      interval,
		updateInverse: updateInverse,
		store:         store,
		logger:        logrus.WithField("component", "panora-poller"),
		symbol:        pricestore.DexSymbol(fromAddr, toAddr),
		inverseSymbol: pricestore.DexSymbol(toAddr, fromAddr),
	}
}

// Run blocks until ctx is cancelled.
func (p *PanoraPoller) Run(ctx context.Context) {
	p.logger.Infof("started | symbol=%s interval=%s", p.symbol, p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *PanoraPoller) pollOnce(ctx context.Context) {
	price, err := p.client.GetPrice(ctx, decimal.NewFromInt(1), p.fromAddr, p.toAddr)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.client.RateLimited() {
			p.logger.Warnf("price fetch skipped (rate limited) | %s", p.client.Stats())
		} else {
			p.logger.Warnf("price fetch failed: %v", err)
		}
		return
	}

	p.pollCount++
	p.store.Update(pricestore.VenuePanora, p.symbol, price, price, pricestore.DexQtySentinel, pricestore.DexQtySentinel)

	if p.updateInverse && price.IsPositive() {
		inv := decimal.NewFromInt(1).Div(price)
		p.store.Update(pricestore.VenuePanora, p.inverseSymbol, inv, inv, pricestore.DexQtySentinel, pricestore.DexQtySentinel)
	}

	if p.pollCount%heartbeatEveryPolls == 0 {
		p.logger.Infof("%s price=%s polls=%d | %s", p.symbol, price, p.pollCount, p.client.Stats())
	}
}
