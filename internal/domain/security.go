package domain

import (
	"math"
	"sync"
	"time"
)

// Level1 is the best bid/ask/last snapshot for a security. Prices are
// scaled integers.
type Level1 struct {
	LastPrice Price
	LastSize  Qty
	AskPrice  Price
	AskSize   Qty
	BidPrice  Price
	BidSize   Qty
	Time      time.Time
}

// Security is one tradable instrument. Identity fields are immutable after
// construction; quote fields are updated by the market data feed and read
// concurrently by strategies and the dashboard, so access goes through the
// snapshot accessors.
type Security struct {
	Symbol          string
	Exchange        string
	PrimaryExchange string
	Currency        string

	// PriceScale is the integer factor between real and scaled prices.
	// All price fields of this security use the same scale.
	PriceScale int64

	// RoundLot is the minimum tradable quantity increment.
	RoundLot Qty

	mu     sync.RWMutex
	level1 Level1
}

// NewSecurity creates a security with the given identity. A zero or
// negative price scale defaults to 1, a zero round lot to 1.
func NewSecurity(symbol, exchange, currency string, priceScale int64, roundLot Qty) *Security {
	if priceScale <= 0 {
		priceScale = 1
	}
	if roundLot <= 0 {
		roundLot = 1
	}
	return &Security{
		Symbol:     symbol,
		Exchange:   exchange,
		Currency:   currency,
		PriceScale: priceScale,
		RoundLot:   roundLot,
	}
}

// ScalePrice converts a real price to the scaled integer representation,
// rounding to the nearest scaled unit.
func (s *Security) ScalePrice(price float64) Price {
	return Price(math.Round(price * float64(s.PriceScale)))
}

// DescalePrice converts a scaled integer price back to a real price.
func (s *Security) DescalePrice(price Price) float64 {
	return float64(price) / float64(s.PriceScale)
}

// Level1 returns the current quote snapshot.
func (s *Security) Level1() Level1 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level1
}

// SetLevel1 replaces the quote snapshot. Called by the market data feed.
func (s *Security) SetLevel1(l1 Level1) {
	s.mu.Lock()
	s.level1 = l1
	s.mu.Unlock()
}

// ApplyTrade updates the last price/size from an execution print.
func (s *Security) ApplyTrade(t Trade) {
	s.mu.Lock()
	s.level1.LastPrice = t.Price
	s.level1.LastSize = t.Qty
	s.level1.Time = t.Time
	s.mu.Unlock()
}
