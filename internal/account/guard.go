// Package account provides pre-trade account checks: cash balance, excess
// liquidity floor, and per-strategy allocation limits. A failed check
// skips the entry - it is advisory, never a fault.
package account

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/domain"
)

// Limits configures the pre-trade checks. Zero values disable the
// corresponding check.
type Limits struct {
	// MinExcessLiquidity is the floor the broker-computed excess
	// liquidity must stay above for new exposure.
	MinExcessLiquidity float64

	// MaxVolume caps the notional a single entry may allocate.
	MaxVolume float64
}

// Guard runs pre-trade checks against account snapshots. Snapshots are
// valid only at read time: asynchronous fills may change the account
// immediately after, so a passed check is a best-effort gate, not a
// reservation.
type Guard struct {
	ts     domain.TradingSystem
	limits Limits
	log    zerolog.Logger
}

// NewGuard creates an account guard.
func NewGuard(ts domain.TradingSystem, limits Limits, log zerolog.Logger) *Guard {
	return &Guard{
		ts:     ts,
		limits: limits,
		log:    log.With().Str("component", "account_guard").Logger(),
	}
}

// CheckEntry verifies that new exposure of the given notional is
// permitted. On failure it logs a warning with full context and returns
// an error wrapping domain.ErrAccountLimit; callers skip the entry and
// wait for the next event cycle.
func (g *Guard) CheckEntry(strategy string, notional float64) error {
	snap, err := g.ts.Account()
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	if g.limits.MinExcessLiquidity > 0 && snap.ExcessLiquidity < g.limits.MinExcessLiquidity {
		g.log.Warn().
			Str("strategy", strategy).
			Float64("excess_liquidity", snap.ExcessLiquidity).
			Float64("min_excess_liquidity", g.limits.MinExcessLiquidity).
			Float64("notional", notional).
			Msg("Entry skipped: excess liquidity below floor")
		return fmt.Errorf("excess liquidity %.2f below floor %.2f: %w",
			snap.ExcessLiquidity, g.limits.MinExcessLiquidity, domain.ErrAccountLimit)
	}

	if g.limits.MaxVolume > 0 && notional > g.limits.MaxVolume {
		g.log.Warn().
			Str("strategy", strategy).
			Float64("notional", notional).
			Float64("max_volume", g.limits.MaxVolume).
			Msg("Entry skipped: notional above allocation limit")
		return fmt.Errorf("notional %.2f above allocation limit %.2f: %w",
			notional, g.limits.MaxVolume, domain.ErrAccountLimit)
	}

	if notional > snap.CashBalance {
		g.log.Warn().
			Str("strategy", strategy).
			Float64("notional", notional).
			Float64("cash_balance", snap.CashBalance).
			Msg("Entry skipped: insufficient cash")
		return fmt.Errorf("notional %.2f above cash balance %.2f: %w",
			notional, snap.CashBalance, domain.ErrAccountLimit)
	}

	return nil
}
