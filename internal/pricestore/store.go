package pricestore

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Venue names used as store keys.
const (
	VenueBybit  = "bybit"
	VenueMexc   = "mexc"
	VenuePanora = "panora"
)

// DexQtySentinel marks DEX quotes, which have no order-book depth.
var DexQtySentinel = decimal.NewFromInt(10000)

// Quote is one top-of-book snapshot from one venue.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	BidQty    decimal.Decimal
	AskQty    decimal.Decimal
	Timestamp time.Time
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

func (q Quote) Age() time.Duration {
	return time.Since(q.Timestamp)
}

func (q Quote) IsStale(maxAge time.Duration) bool {
	return q.Age() > maxAge
}

// Store maps symbol -> venue -> latest Quote. Entries are overwritten,
// never deleted, during normal operation.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]map[string]Quote
	logger *logrus.Entry
}

func New() *Store {
	return &Store{
		quotes: make(map[string]map[string]Quote),
		logger: logrus.WithField("component", "pricestore"),
	}
}

// Update replaces the quote for (symbol, venue). Writes with a
// non-positive bid or ask are dropped with a warning.
func (s *Store) Update(venue, symbol string, bid, ask, bidQty, askQty decimal.Decimal) {
	if bid.LessThanOrEqual(decimal.Zero) || ask.LessThanOrEqual(decimal.Zero) {
		s.logger.WithFields(logrus.Fields{
			"venue":  venue,
			"symbol": symbol,
			"bid":    bid.String(),
			"ask":    ask.String(),
		}).Warn("dropping quote with non-positive price")
		return
	}

	q := Quote{Bid: bid, Ask: ask, BidQty: bidQty, AskQty: askQty, Timestamp: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	venues, ok := s.quotes[symbol]
	if !ok {
		venues = make(map[string]Quote)
		s.quotes[symbol] = venues
	}
	venues[venue] = q
}

// Get returns a copy of the venue map for symbol, or an empty map.
func (s *Store) Get(symbol string) map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Quote, len(s.quotes[symbol]))
	for venue, q := range s.quotes[symbol] {
		out[venue] = q
	}
	return out
}

// GetVenue returns the quote for (symbol, venue) if present.
func (s *Store) GetVenue(symbol, venue string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol][venue]
	return q, ok
}

// Symbols returns all symbol keys currently in the store.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	return out
}

// DexSymbol builds the synthetic store key for a DEX direction from
// the first four characters of each token address. The inverse
// direction uses the prefixes swapped, so the store treats each
// direction as its own symbol.
func DexSymbol(fromAddr, toAddr string) string {
	return addrPrefix(fromAddr) + "_" + addrPrefix(toAddr)
}

func addrPrefix(addr string) string {
	if len(addr) <= 4 {
		return addr
	}
	return addr[:4]
}
