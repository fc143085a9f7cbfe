package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
)

// Bar is one fixed-interval candlestick for a security, carrying the
// extreme quote prices seen during the interval alongside the usual OHLCV
// fields. Prices are scaled integers.
type Bar struct {
	Start  time.Time
	Open   domain.Price
	High   domain.Price
	Low    domain.Price
	Close  domain.Price
	Volume domain.Qty

	// MaxAskPrice and MinBidPrice are the extreme quote prices seen
	// during the bar. Zero means no quote arrived.
	MaxAskPrice domain.Price
	MinBidPrice domain.Price
}

// BarService aggregates trades and quotes for one security into
// fixed-interval bars. State changes (and downstream propagation) happen
// when a bar completes, so subscribers evaluate once per candlestick on
// stable data.
type BarService struct {
	Base

	name     string
	security *domain.Security
	interval time.Duration
	log      zerolog.Logger

	mu        sync.RWMutex
	completed []Bar
	current   *Bar
}

// NewBarService creates a bar service for one security. Interval must be
// positive.
func NewBarService(name string, security *domain.Security, interval time.Duration, log zerolog.Logger) (*BarService, error) {
	if security == nil {
		return nil, domain.NewConfigError("bar service %q requires a security", name)
	}
	if interval <= 0 {
		return nil, domain.NewConfigError("bar service %q requires a positive interval", name)
	}
	return &BarService{
		name:     name,
		security: security,
		interval: interval,
		log: log.With().
			Str("service", name).
			Str("symbol", security.Symbol).
			Logger(),
	}, nil
}

// Name returns the service name.
func (s *BarService) Name() string { return s.name }

// Security returns the aggregated security.
func (s *BarService) Security() *domain.Security { return s.security }

// Interval returns the bar interval.
func (s *BarService) Interval() time.Duration { return s.interval }

// Size returns the number of completed bars.
func (s *BarService) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completed)
}

// BarByReversedIndex returns a completed bar counting back from the most
// recent one (index 0). The second return value is false when no such bar
// exists.
func (s *BarService) BarByReversedIndex(i int) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.completed) {
		return Bar{}, false
	}
	return s.completed[len(s.completed)-1-i], true
}

// OnNewTrade folds an execution print into the current bar. It returns
// true when the print started a new interval and thereby completed a bar.
func (s *BarService) OnNewTrade(security *domain.Security, trade domain.Trade) bool {
	if security != s.security {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	completed := s.rollLocked(trade.Time)
	bar := s.current
	if bar.Open == 0 {
		bar.Open = trade.Price
		bar.High = trade.Price
		bar.Low = trade.Price
	}
	if trade.Price > bar.High {
		bar.High = trade.Price
	}
	if bar.Low == 0 || trade.Price < bar.Low {
		bar.Low = trade.Price
	}
	bar.Close = trade.Price
	bar.Volume += trade.Qty
	return completed
}

// OnLevel1Update folds the current quote extremes into the current bar.
// It returns true when the quote started a new interval and thereby
// completed a bar.
func (s *BarService) OnLevel1Update(security *domain.Security) bool {
	if security != s.security {
		return false
	}
	l1 := security.Level1()
	if l1.Time.IsZero() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	completed := s.rollLocked(l1.Time)
	bar := s.current
	if l1.AskPrice > bar.MaxAskPrice {
		bar.MaxAskPrice = l1.AskPrice
	}
	if l1.BidPrice > 0 && (bar.MinBidPrice == 0 || l1.BidPrice < bar.MinBidPrice) {
		bar.MinBidPrice = l1.BidPrice
	}
	return completed
}

// rollLocked ensures the current bar covers the interval containing t,
// completing the previous bar when a new interval starts. It reports
// whether a bar was completed.
func (s *BarService) rollLocked(t time.Time) bool {
	start := t.Truncate(s.interval)
	if s.current == nil {
		s.current = &Bar{Start: start}
		return false
	}
	if !start.After(s.current.Start) {
		return false
	}

	s.completed = append(s.completed, *s.current)
	s.log.Debug().
		Time("bar_start", s.current.Start).
		Int64("close", int64(s.current.Close)).
		Msg("Bar completed")
	s.current = &Bar{Start: start}
	return true
}
