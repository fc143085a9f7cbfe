package goldarb

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/position"
	"github.com/alimogh/trdk/internal/service"
	"github.com/alimogh/trdk/internal/strategy"
)

type mockTradingSystem struct {
	requests []domain.OrderRequest
	orderIDs []domain.OrderID
	canceled []domain.OrderID
	seq      int
}

func (m *mockTradingSystem) SendOrder(req domain.OrderRequest) (domain.OrderID, error) {
	m.seq++
	id := domain.OrderID(fmt.Sprintf("ord-%d", m.seq))
	m.requests = append(m.requests, req)
	m.orderIDs = append(m.orderIDs, id)
	return id, nil
}

func (m *mockTradingSystem) CancelOrder(id domain.OrderID) error {
	m.canceled = append(m.canceled, id)
	return nil
}

func (m *mockTradingSystem) CancelAllForSecurity(string) error { return nil }

func (m *mockTradingSystem) Account() (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{CashBalance: 1000000, ExcessLiquidity: 1000000}, nil
}

func (m *mockTradingSystem) BrokerPositions() ([]domain.BrokerPosition, error) {
	return nil, nil
}

type failingGuard struct{}

func (failingGuard) CheckEntry(string, float64) error {
	return fmt.Errorf("excess liquidity 4000.00 below floor 5000.00: %w", domain.ErrAccountLimit)
}

// harness wires a strategy with one bar service per leg over two
// securities with a price scale of 100.
type harness struct {
	ts    *mockTradingSystem
	gld   *domain.Security
	dgl   *domain.Security
	barsA *service.BarService
	barsB *service.BarService
	strat *Strategy
}

func newHarness(t *testing.T, cfg Config, guard strategy.EntryGuard) *harness {
	t.Helper()

	h := &harness{
		ts:  &mockTradingSystem{},
		gld: domain.NewSecurity("GLD", "ARCA", "USD", 100, 1),
		dgl: domain.NewSecurity("DGL", "ARCA", "USD", 100, 1),
	}
	env := strategy.Env{
		TradingSystem: h.ts,
		FindSecurity: func(symbol string) *domain.Security {
			switch symbol {
			case "GLD":
				return h.gld
			case "DGL":
				return h.dgl
			}
			return nil
		},
		Group: strategy.NewGroup(),
		Guard: guard,
		Log:   zerolog.Nop(),
	}
	h.strat = New("gold-arb", cfg, env)

	var err error
	h.barsA, err = service.NewBarService("gld_bars", h.gld, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)
	h.barsB, err = service.NewBarService("dgl_bars", h.dgl, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)

	h.strat.OnSecurityStart(h.gld)
	h.strat.OnSecurityStart(h.dgl)
	h.strat.OnServiceStart(h.barsA)
	h.strat.OnServiceStart(h.barsB)
	return h
}

// quote pushes one level1 update into the bar service, returning whether
// it completed a bar.
func (h *harness) quote(bars *service.BarService, sec *domain.Security, at time.Time, ask, bid domain.Price) bool {
	sec.SetLevel1(domain.Level1{AskPrice: ask, BidPrice: bid, Time: at})
	return bars.OnLevel1Update(sec)
}

// completeBar produces a completed bar covering start with the given
// ask/bid extremes by rolling one interval past it.
func (h *harness) completeBar(t *testing.T, bars *service.BarService, sec *domain.Security, start time.Time, ask, bid domain.Price) {
	t.Helper()
	h.quote(bars, sec, start, ask, bid)
	require.True(t, h.quote(bars, sec, start.Add(5*time.Minute), ask, bid))
}

var barStart = time.Date(2014, 3, 10, 15, 0, 0, 0, time.UTC)

func TestEntry_ShortGldLongDgl(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	// GLD ask 160.00 over DGL bid 56.00 is 2.857, above 2.850.
	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)

	require.Len(t, h.ts.requests, 2)

	gldLeg := h.ts.requests[0]
	assert.Equal(t, "GLD", gldLeg.Security.Symbol)
	assert.Equal(t, domain.Sell, gldLeg.Side)
	assert.Equal(t, domain.OrderTypeMarket, gldLeg.Type)
	assert.Equal(t, domain.Qty(62), gldLeg.Qty) // 10000 / 160.00

	dglLeg := h.ts.requests[1]
	assert.Equal(t, "DGL", dglLeg.Security.Symbol)
	assert.Equal(t, domain.Buy, dglLeg.Side)
	assert.Equal(t, domain.Qty(178), dglLeg.Qty) // 10000 / 56.00

	require.Equal(t, 2, h.strat.Positions().Count())
	for _, pos := range h.strat.Positions().Slice() {
		assert.Equal(t, "short-GLD/long-DGL", pos.Tag())
	}
}

func TestEntry_LongGldShortDgl(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	// GLD bid 158.80 over DGL ask 56.00 is 2.836, below 2.842.
	h.completeBar(t, h.barsA, h.gld, barStart, 15890, 15880)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5600, 5590)
	h.strat.OnServiceDataUpdate(h.barsA)

	require.Len(t, h.ts.requests, 2)
	assert.Equal(t, domain.Buy, h.ts.requests[0].Side)
	assert.Equal(t, "GLD", h.ts.requests[0].Security.Symbol)
	assert.Equal(t, domain.Sell, h.ts.requests[1].Side)
	assert.Equal(t, "DGL", h.ts.requests[1].Security.Symbol)
	for _, pos := range h.strat.Positions().Slice() {
		assert.Equal(t, "long-GLD/short-DGL", pos.Tag())
	}
}

func TestEntry_ExactThresholdDoesNotTrade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntryRatioShortA = 2.860
	cfg.EntryToleranceShortA = 0
	cfg.EntryRatioLongA = 2.0 // keep the other branch out of the way
	h := newHarness(t, cfg, nil)

	// 2860 / 1000 is exactly the threshold; strict greater-than keeps
	// the entry closed.
	h.completeBar(t, h.barsA, h.gld, barStart, 2860, 2850)
	h.completeBar(t, h.barsB, h.dgl, barStart, 1010, 1000)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Empty(t, h.ts.requests)

	// One tick above the threshold trades.
	next := barStart.Add(5 * time.Minute)
	h.completeBar(t, h.barsA, h.gld, next, 2861, 2850)
	h.completeBar(t, h.barsB, h.dgl, next, 1010, 1000)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Len(t, h.ts.requests, 2)
}

func TestEntry_ToleranceWidensThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntryRatioShortA = 2.850
	cfg.EntryToleranceShortA = 0.01
	h := newHarness(t, cfg, nil)

	// 2.857 clears the base ratio but not the widened 2.8785 boundary.
	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Empty(t, h.ts.requests)
}

func TestEntry_SkippedWhenLegsNotInSameBar(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart.Add(5*time.Minute), 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)

	assert.Empty(t, h.ts.requests)
}

func TestEntry_SkippedByAccountGuard(t *testing.T) {
	h := newHarness(t, DefaultConfig(), failingGuard{})

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)

	assert.Empty(t, h.ts.requests)
	assert.Zero(t, h.strat.Positions().Count())
}

func TestEntry_SkippedWhilePositionsActive(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	require.Len(t, h.ts.requests, 2)

	// The same signal on the next bar must not stack a second spread.
	next := barStart.Add(5 * time.Minute)
	h.completeBar(t, h.barsA, h.gld, next, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, next, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Len(t, h.ts.requests, 2)
}

func TestEntry_DecisionIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		h := newHarness(t, DefaultConfig(), nil)
		h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
		h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
		h.strat.OnServiceDataUpdate(h.barsA)
		assert.Len(t, h.ts.requests, 2, "run %d", i)
	}
}

func TestExit_ClosesOnRatioReversion(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	t1 := barStart.Add(5 * time.Minute)
	t2 := barStart.Add(10 * time.Minute)

	// Bar 1 carries the entry signal; the bar 2 quotes complete it.
	h.quote(h.barsA, h.gld, barStart, 16000, 15990)
	h.quote(h.barsB, h.dgl, barStart, 5610, 5600)
	h.quote(h.barsA, h.gld, t1, 15943, 15940)
	h.quote(h.barsB, h.dgl, t1, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	require.Len(t, h.ts.requests, 2)

	// Fill both open orders so the positions report opened.
	for i, pos := range h.strat.Positions().Slice() {
		pos.ApplyReport(domain.ExecutionReport{
			OrderID:   h.ts.orderIDs[i],
			Status:    domain.OrderStatusFilled,
			FilledQty: h.ts.requests[i].Qty,
			LastPrice: h.ts.requests[i].Security.Level1().AskPrice,
		})
		require.True(t, pos.IsOpened())
	}

	// Bar 2: GLD ask 159.43 over DGL bid 56.00 is 2.8470, within the
	// exit tolerance of 2.847.
	h.quote(h.barsA, h.gld, t2, 15943, 15940)
	h.quote(h.barsB, h.dgl, t2, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)

	require.Len(t, h.ts.requests, 4)
	gldClose := h.ts.requests[2]
	assert.Equal(t, "GLD", gldClose.Security.Symbol)
	assert.Equal(t, domain.Buy, gldClose.Side)
	assert.Equal(t, domain.OrderTypeMarket, gldClose.Type)
	dglClose := h.ts.requests[3]
	assert.Equal(t, "DGL", dglClose.Security.Symbol)
	assert.Equal(t, domain.Sell, dglClose.Side)
}

func TestExit_SkipsPositionsWithActiveCloseOrders(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	t1 := barStart.Add(5 * time.Minute)
	t2 := barStart.Add(10 * time.Minute)

	h.quote(h.barsA, h.gld, barStart, 16000, 15990)
	h.quote(h.barsB, h.dgl, barStart, 5610, 5600)
	h.quote(h.barsA, h.gld, t1, 15943, 15940)
	h.quote(h.barsB, h.dgl, t1, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	require.Len(t, h.ts.requests, 2)

	for i, pos := range h.strat.Positions().Slice() {
		pos.ApplyReport(domain.ExecutionReport{
			OrderID:   h.ts.orderIDs[i],
			Status:    domain.OrderStatusFilled,
			FilledQty: h.ts.requests[i].Qty,
			LastPrice: 10000,
		})
	}

	h.quote(h.barsA, h.gld, t2, 15943, 15940)
	h.quote(h.barsB, h.dgl, t2, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	require.Len(t, h.ts.requests, 4)

	// Re-delivering the exit signal while the closes are in flight must
	// not submit replacement orders.
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Len(t, h.ts.requests, 4)
}

func TestHedge_CancelsSiblingOnOneSidedCompletion(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	posA, err := position.NewShort("gold-arb", h.ts, h.gld, 62, 16000, zerolog.Nop())
	require.NoError(t, err)
	posB, err := position.NewLong("gold-arb", h.ts, h.dgl, 178, 5600, zerolog.Nop())
	require.NoError(t, err)
	h.strat.Positions().Add(posA)
	h.strat.Positions().Add(posB)

	openA, err := posA.OpenAtMarketPrice(nil)
	require.NoError(t, err)
	openB, err := posB.OpenAtMarketPrice(nil)
	require.NoError(t, err)

	// Leg A runs its full lifecycle; leg B's open is still in flight.
	posA.ApplyReport(domain.ExecutionReport{OrderID: openA, Status: domain.OrderStatusFilled, FilledQty: 62, LastPrice: 16000})
	closeA, err := posA.CloseAtMarketPrice(nil)
	require.NoError(t, err)
	posA.ApplyReport(domain.ExecutionReport{OrderID: closeA, Status: domain.OrderStatusFilled, FilledQty: 62, LastPrice: 15943})
	require.True(t, posA.IsCompleted())
	require.False(t, posA.IsCanceled())

	h.strat.OnPositionUpdate(posA)

	require.Contains(t, h.ts.canceled, openB)
	assert.True(t, posB.IsCanceled())
}

func TestHedge_NoCancelWhenCompletionIsItselfACancel(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	posA, err := position.NewShort("gold-arb", h.ts, h.gld, 62, 16000, zerolog.Nop())
	require.NoError(t, err)
	posB, err := position.NewLong("gold-arb", h.ts, h.dgl, 178, 5600, zerolog.Nop())
	require.NoError(t, err)
	h.strat.Positions().Add(posA)
	h.strat.Positions().Add(posB)

	openA, err := posA.OpenAtMarketPrice(nil)
	require.NoError(t, err)
	_, err = posB.OpenAtMarketPrice(nil)
	require.NoError(t, err)

	// Leg A's open is canceled by the venue with nothing filled.
	posA.ApplyReport(domain.ExecutionReport{OrderID: openA, Status: domain.OrderStatusCanceled, RemainingQty: 62})
	require.True(t, posA.IsCompleted())
	require.True(t, posA.IsCanceled())

	h.strat.OnPositionUpdate(posA)

	assert.Empty(t, h.ts.canceled)
}

func TestHedge_CancelsSiblingOnVenueReject(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	require.Len(t, h.ts.requests, 2)

	positions := h.strat.Positions().Slice()
	posA, posB := positions[0], positions[1]

	// The GLD leg fills; the venue rejects the DGL hedge outright.
	posA.ApplyReport(domain.ExecutionReport{
		OrderID: h.ts.orderIDs[0], Status: domain.OrderStatusFilled,
		FilledQty: h.ts.requests[0].Qty, LastPrice: 15990,
	})
	posB.ApplyReport(domain.ExecutionReport{
		OrderID: h.ts.orderIDs[1], Status: domain.OrderStatusRejected,
		Reason: "insufficient margin",
	})
	require.True(t, posB.IsError())
	require.True(t, posB.IsCompleted())
	require.False(t, posB.IsCanceled())

	h.strat.OnPositionUpdate(posB)

	// The filled leg is unwound at market so no one-sided exposure
	// survives the reject.
	require.Len(t, h.ts.requests, 3)
	unwind := h.ts.requests[2]
	assert.Equal(t, "GLD", unwind.Security.Symbol)
	assert.Equal(t, domain.Buy, unwind.Side)
	assert.Equal(t, domain.OrderTypeMarket, unwind.Type)
	assert.True(t, posA.IsCanceled())
}

func TestBroker_AdoptsUntrackedLegExposure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.gld.SetLevel1(domain.Level1{BidPrice: 15990, AskPrice: 16000, Time: barStart})

	h.strat.OnBrokerPositionUpdate(h.gld, -62, true)

	require.Equal(t, 1, h.strat.Positions().Count())
	pos := h.strat.Positions().Slice()[0]
	assert.Equal(t, domain.Short, pos.Side())
	assert.True(t, pos.IsOpened())
	assert.True(t, pos.IsRestored())
	assert.Equal(t, domain.Qty(62), pos.OpenedQty())
	assert.Equal(t, "adopted", pos.Tag())
	assert.Empty(t, h.ts.requests) // adoption never trades

	// Re-delivery with the leg already tracked is a no-op.
	h.strat.OnBrokerPositionUpdate(h.gld, -62, false)
	assert.Equal(t, 1, h.strat.Positions().Count())
}

func TestBroker_IgnoresNonLegAndFlatPositions(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	slv := domain.NewSecurity("SLV", "ARCA", "USD", 100, 1)

	h.strat.OnBrokerPositionUpdate(slv, 100, true)
	h.strat.OnBrokerPositionUpdate(h.gld, 0, true)

	assert.Zero(t, h.strat.Positions().Count())
}

func TestEntry_SkippedWhenSiblingHoldsLegs(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	group := h.strat.Env().Group
	group.Register(h.strat)

	sibling := New("gold-arb-2", DefaultConfig(), strategy.Env{
		TradingSystem: h.ts,
		Group:         group,
		Log:           zerolog.Nop(),
	})
	group.Register(sibling)
	pos, err := position.NewShort("gold-arb-2", h.ts, h.gld, 62, 16000, zerolog.Nop())
	require.NoError(t, err)
	sibling.Positions().Add(pos)

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Empty(t, h.ts.requests)

	// With the sibling gone the same signal trades on the next bar.
	group.Remove(sibling.Name())
	next := barStart.Add(5 * time.Minute)
	h.completeBar(t, h.barsA, h.gld, next, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, next, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)
	assert.Len(t, h.ts.requests, 2)
}

func TestDiagnostics_PublishSpreadMeasurements(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	assert.Empty(t, h.strat.Diagnostics())

	h.completeBar(t, h.barsA, h.gld, barStart, 16000, 15990)
	h.completeBar(t, h.barsB, h.dgl, barStart, 5610, 5600)
	h.strat.OnServiceDataUpdate(h.barsA)

	diag := h.strat.Diagnostics()
	assert.InDelta(t, 16000.0/5600.0, diag["ratio_short_a"], 1e-9)
	assert.InDelta(t, 15990.0/5610.0, diag["ratio_long_a"], 1e-9)
	assert.InDelta(t, 16000.0/5600.0, diag["ratio_mean"], 1e-9)
	assert.Zero(t, diag["ratio_stddev"]) // one sample so far
	assert.InDelta(t, 160.00, diag["leg_a_ask"], 1e-9)
	assert.InDelta(t, 56.00, diag["leg_b_bid"], 1e-9)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		"leg_a":               "GLD",
		"leg_b":               "DGL",
		"entry_ratio_short_a": "2.90",
		"exit_ratio":          "2.88",
		"notional_per_leg":    "25000",
	})
	require.NoError(t, err)
	assert.Equal(t, 2.90, cfg.EntryRatioShortA)
	assert.Equal(t, 25000.0, cfg.NotionalPerLeg)
}

func TestParseConfig_UnknownKeyFails(t *testing.T) {
	_, err := ParseConfig(map[string]string{"entry_ratio": "2.9"})
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

func TestParseConfig_RejectsInvertedRatios(t *testing.T) {
	_, err := ParseConfig(map[string]string{
		"entry_ratio_short_a": "2.80",
		"entry_ratio_long_a":  "2.85",
	})
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}
