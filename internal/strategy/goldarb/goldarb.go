// Package goldarb implements the two-instrument ratio arbitrage strategy:
// short the expensive leg and hedge with the cheap one whenever the bar
// ratio of the two instruments leaves its band, unwind when the ratio
// reverts. Both legs open as close to simultaneously as the trading
// system allows; a leg that completes without its hedge triggers a
// market-cancel of every other position of the instance.
package goldarb

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/position"
	"github.com/alimogh/trdk/internal/service"
	"github.com/alimogh/trdk/internal/strategy"
)

// ClassName is the wiring configuration class of this strategy.
const ClassName = "GoldArbitrage"

const ratioWindow = 64

// Strategy trades the legA/legB spread from completed bars.
type Strategy struct {
	strategy.Base

	cfg   Config
	barsA *service.BarService
	barsB *service.BarService

	tagShortA string
	tagLongA  string

	// ratios is a rolling sample of the short-A side ratio feeding the
	// spread statistics.
	ratios []float64

	// diag holds the latest spread measurements for the dashboard.
	// Written on the dispatch goroutine, read from the HTTP goroutines.
	diagMu sync.RWMutex
	diag   map[string]float64
}

// Factory builds a configured instance from raw wiring parameters.
func Factory(name string, params map[string]string, env strategy.Env) (strategy.Strategy, error) {
	cfg, err := ParseConfig(params)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return New(name, cfg, env), nil
}

// New creates the strategy. Bar services for both legs arrive later via
// OnServiceStart, before any data event.
func New(name string, cfg Config, env strategy.Env) *Strategy {
	return &Strategy{
		Base:      strategy.NewBase(name, env),
		cfg:       cfg,
		tagShortA: fmt.Sprintf("short-%s/long-%s", cfg.LegA, cfg.LegB),
		tagLongA:  fmt.Sprintf("long-%s/short-%s", cfg.LegA, cfg.LegB),
	}
}

// Requirements declares one bar feed per leg.
func (s *Strategy) Requirements() string {
	return fmt.Sprintf("bars[%s], bars[%s]", s.cfg.LegA, s.cfg.LegB)
}

// OnServiceStart binds the bar service to the leg it aggregates.
func (s *Strategy) OnServiceStart(svc service.Service) {
	bars, ok := svc.(*service.BarService)
	if !ok {
		return
	}
	switch bars.Security().Symbol {
	case s.cfg.LegA:
		s.barsA = bars
	case s.cfg.LegB:
		s.barsB = bars
	default:
		s.Log().Warn().
			Str("service", svc.Name()).
			Str("symbol", bars.Security().Symbol).
			Msg("Bar service bound to none of the configured legs")
	}
}

// OnServiceDataUpdate re-evaluates entry and exit on every completed bar.
func (s *Strategy) OnServiceDataUpdate(service.Service) {
	if !s.isOnline() {
		return
	}
	barA, _ := s.barsA.BarByReversedIndex(0)
	barB, _ := s.barsB.BarByReversedIndex(0)
	ratioShortA, ratioLongA := s.observeRatios(barA, barB)
	s.checkExit(barA, barB)
	s.checkEntry(barA, barB, ratioShortA, ratioLongA)
}

// OnBrokerPositionUpdate adopts leg exposure the broker reports but no
// active position covers. The broker figure is ground truth: the adopted
// position joins the active collection, visible on the dashboard and
// eligible for close and close-all.
func (s *Strategy) OnBrokerPositionUpdate(sec *domain.Security, qty int64, isInitial bool) {
	if qty == 0 {
		return
	}
	if sec.Symbol != s.cfg.LegA && sec.Symbol != s.cfg.LegB {
		return
	}
	for _, pos := range s.Positions().Slice() {
		if pos.Security().Symbol == sec.Symbol {
			return
		}
	}

	side := domain.Long
	size := domain.Qty(qty)
	if qty < 0 {
		side = domain.Short
		size = domain.Qty(-qty)
	}
	l1 := sec.Level1()
	price := l1.LastPrice
	if side == domain.Long && l1.AskPrice != 0 {
		price = l1.AskPrice
	} else if side == domain.Short && l1.BidPrice != 0 {
		price = l1.BidPrice
	}

	pos, err := position.New(s.Name(), s.Env().TradingSystem, sec, side, size, price, *s.Log())
	if err != nil {
		s.Log().Error().Err(err).Str("symbol", sec.Symbol).Msg("Broker position adoption rejected")
		return
	}
	pos.SetTag("adopted")
	if err := pos.RestoreOpenState(""); err != nil {
		s.Log().Error().Err(err).Str("symbol", sec.Symbol).Msg("Broker position restore failed")
		return
	}
	s.Positions().Add(pos)
	s.Log().Info().
		Str("symbol", sec.Symbol).
		Str("side", side.String()).
		Int64("qty", int64(size)).
		Bool("initial", isInitial).
		Msg("Adopted broker position")
}

// OnPositionUpdate enforces the unhedged-leg invariant: a leg that
// completed for any reason other than its own cancellation immediately
// market-cancels every other position of this instance.
func (s *Strategy) OnPositionUpdate(pos *position.Position) {
	if !pos.IsCompleted() || pos.IsCanceled() {
		return
	}
	for _, sibling := range s.Positions().Slice() {
		if sibling == pos {
			continue
		}
		sent, err := sibling.CancelAtMarketPrice(nil)
		if err != nil {
			s.Log().Error().Err(err).
				Str("position_id", sibling.ID()).
				Msg("Sibling cancel failed")
			continue
		}
		if sent {
			s.Log().Info().
				Str("completed", pos.Security().Symbol).
				Str("canceled", sibling.Security().Symbol).
				Msg("Canceling sibling after one-sided completion")
		}
	}
}

// isOnline reports whether both legs are currently trading: each must
// have a completed bar and the latest bars must cover the same interval.
// One leg opening before the other in premarket would otherwise produce
// ratios between a live and a stale price.
func (s *Strategy) isOnline() bool {
	if s.barsA == nil || s.barsB == nil {
		return false
	}
	barA, okA := s.barsA.BarByReversedIndex(0)
	barB, okB := s.barsB.BarByReversedIndex(0)
	if !okA || !okB {
		return false
	}
	online := barA.Start.Equal(barB.Start)
	if !online {
		s.Log().Debug().
			Time("bar_a", barA.Start).
			Time("bar_b", barB.Start).
			Msg("Legs not in the same bar interval")
	}
	return online
}

// observeRatios computes both branch ratios from the completed bars,
// folds the short-A side into the rolling window and publishes the
// measurements for the dashboard.
func (s *Strategy) observeRatios(barA, barB service.Bar) (ratioShortA, ratioLongA float64) {
	if barB.MinBidPrice != 0 {
		ratioShortA = float64(barA.MaxAskPrice) / float64(barB.MinBidPrice)
	}
	if barB.MaxAskPrice != 0 {
		ratioLongA = float64(barA.MinBidPrice) / float64(barB.MaxAskPrice)
	}
	if ratioShortA > 0 {
		s.ratios = append(s.ratios, ratioShortA)
		if len(s.ratios) > ratioWindow {
			s.ratios = s.ratios[len(s.ratios)-ratioWindow:]
		}
	}

	mean, stddev := 0.0, 0.0
	if len(s.ratios) > 0 {
		mean = stat.Mean(s.ratios, nil)
	}
	if len(s.ratios) > 1 {
		stddev = stat.StdDev(s.ratios, nil)
	}

	secA := s.barsA.Security()
	secB := s.barsB.Security()
	s.diagMu.Lock()
	if s.diag == nil {
		s.diag = make(map[string]float64, 8)
	}
	s.diag["ratio_short_a"] = ratioShortA
	s.diag["ratio_long_a"] = ratioLongA
	s.diag["ratio_mean"] = mean
	s.diag["ratio_stddev"] = stddev
	s.diag["leg_a_ask"] = secA.DescalePrice(barA.MaxAskPrice)
	s.diag["leg_a_bid"] = secA.DescalePrice(barA.MinBidPrice)
	s.diag["leg_b_ask"] = secB.DescalePrice(barB.MaxAskPrice)
	s.diag["leg_b_bid"] = secB.DescalePrice(barB.MinBidPrice)
	s.diagMu.Unlock()
	return ratioShortA, ratioLongA
}

// Diagnostics returns the latest spread measurements: branch ratios, the
// rolling ratio mean and stddev, and the bar prices of both legs. The
// engine folds them into the dashboard state.
func (s *Strategy) Diagnostics() map[string]float64 {
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	out := make(map[string]float64, len(s.diag))
	for k, v := range s.diag {
		out[k] = v
	}
	return out
}

func (s *Strategy) checkEntry(barA, barB service.Bar, ratioShortA, ratioLongA float64) {
	if s.Positions().Count() > 0 {
		return
	}
	if s.siblingHoldsLegs() {
		s.Log().Debug().Msg("Entry skipped, a sibling instance already holds the legs")
		return
	}

	s.Log().Debug().
		Float64("ratio_short_a", ratioShortA).
		Float64("ratio_long_a", ratioLongA).
		Msg("Entry check")

	// Strict comparisons: a ratio exactly on the boundary does not
	// trade.
	switch {
	case ratioShortA > s.cfg.shortAThreshold():
		s.enter(s.tagShortA,
			leg{symbol: s.cfg.LegA, side: domain.Short, price: barA.MaxAskPrice},
			leg{symbol: s.cfg.LegB, side: domain.Long, price: barB.MinBidPrice})
	case ratioLongA > 0 && ratioLongA < s.cfg.longAThreshold():
		s.enter(s.tagLongA,
			leg{symbol: s.cfg.LegA, side: domain.Long, price: barA.MinBidPrice},
			leg{symbol: s.cfg.LegB, side: domain.Short, price: barB.MaxAskPrice})
	}
}

type leg struct {
	symbol string
	side   domain.PositionSide
	price  domain.Price
}

// enter opens both legs of a branch. The guard is consulted once for the
// combined notional; sizing happens per leg. If the second leg fails to
// submit after the first went out, the first is canceled at market so no
// one-sided exposure survives the entry attempt.
func (s *Strategy) enter(tag string, legA, legB leg) {
	if guard := s.Env().Guard; guard != nil {
		if err := guard.CheckEntry(s.Name(), 2*s.cfg.NotionalPerLeg); err != nil {
			s.Log().Warn().Err(err).Str("branch", tag).Msg("Entry skipped by account guard")
			return
		}
	}

	posA := s.openLeg(tag, legA)
	if posA == nil {
		return
	}
	if posB := s.openLeg(tag, legB); posB == nil {
		if _, err := posA.CancelAtMarketPrice(nil); err != nil {
			s.Log().Error().Err(err).
				Str("position_id", posA.ID()).
				Msg("Unwinding first leg after failed second leg")
		}
		return
	}
	s.Log().Info().Str("branch", tag).Msg("Opened both legs")
}

func (s *Strategy) openLeg(tag string, l leg) *position.Position {
	security := s.FindSecurity(l.symbol)
	if security == nil {
		s.Log().Error().Str("symbol", l.symbol).Msg("Leg security not subscribed")
		return nil
	}
	qty := s.legQty(security, l.price)
	if qty <= 0 {
		s.Log().Warn().
			Str("symbol", l.symbol).
			Float64("price", security.DescalePrice(l.price)).
			Msg("Leg notional below one round lot, entry skipped")
		return nil
	}

	pos, err := position.New(s.Name(), s.Env().TradingSystem, security, l.side, qty, l.price, *s.Log())
	if err != nil {
		s.Log().Error().Err(err).Str("symbol", l.symbol).Msg("Leg position rejected")
		return nil
	}
	pos.SetTag(tag)
	if _, err := pos.OpenAtMarketPrice(nil); err != nil {
		s.Log().Error().Err(err).Str("symbol", l.symbol).Msg("Leg open failed")
		return nil
	}
	s.Positions().Add(pos)
	return pos
}

// legQty sizes one leg: notional over price, rounded down to the round
// lot.
func (s *Strategy) legQty(security *domain.Security, price domain.Price) domain.Qty {
	descaled := security.DescalePrice(price)
	if descaled <= 0 {
		return 0
	}
	qty := domain.Qty(s.cfg.NotionalPerLeg / descaled)
	if lot := security.RoundLot; lot > 1 {
		qty -= qty % lot
	}
	return qty
}

// siblingHoldsLegs reports whether another group member already has a
// position on either leg, so two instances trading the same spread do
// not stack exposure.
func (s *Strategy) siblingHoldsLegs() bool {
	group := s.Env().Group
	if group == nil {
		return false
	}
	for _, sib := range group.Others(s.Name()) {
		holder, ok := sib.(interface{ Positions() *strategy.List })
		if !ok {
			continue
		}
		for _, pos := range holder.Positions().Slice() {
			switch pos.Security().Symbol {
			case s.cfg.LegA, s.cfg.LegB:
				return true
			}
		}
	}
	return false
}

// checkExit closes positions whose branch ratio reverted to the exit
// level. Only opened positions without an in-flight close leg are
// eligible.
func (s *Strategy) checkExit(barA, barB service.Bar) {
	positions := s.Positions().Slice()
	if len(positions) == 0 {
		return
	}

	for _, pos := range positions {
		if !pos.IsOpened() || pos.HasActiveCloseOrders() || pos.IsCompleted() {
			continue
		}
		ratio, ok := s.branchExitRatio(pos.Tag(), barA, barB)
		if !ok {
			continue
		}
		if math.Abs(ratio-s.cfg.ExitRatio) > s.cfg.ExitTolerance {
			continue
		}
		if _, err := pos.CloseAtMarketPrice(nil); err != nil {
			s.Log().Error().Err(err).
				Str("position_id", pos.ID()).
				Msg("Exit close failed")
			continue
		}
		s.Log().Info().
			Str("symbol", pos.Security().Symbol).
			Str("branch", pos.Tag()).
			Float64("ratio", ratio).
			Msg("Closing on ratio reversion")
	}
}

// branchExitRatio computes the ratio at the prices the branch would
// actually unwind at: the short-A branch buys A at the ask and sells B at
// the bid, the long-A branch the opposite.
func (s *Strategy) branchExitRatio(tag string, barA, barB service.Bar) (float64, bool) {
	switch tag {
	case s.tagShortA:
		if barB.MinBidPrice == 0 {
			return 0, false
		}
		return float64(barA.MaxAskPrice) / float64(barB.MinBidPrice), true
	case s.tagLongA:
		if barB.MaxAskPrice == 0 {
			return 0, false
		}
		return float64(barA.MinBidPrice) / float64(barB.MaxAskPrice), true
	}
	return 0, false
}
