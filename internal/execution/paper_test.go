package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimogh/trdk/internal/domain"
)

type reportSink struct {
	mu      sync.Mutex
	reports []domain.ExecutionReport
}

func (s *reportSink) handle(rep domain.ExecutionReport) {
	s.mu.Lock()
	s.reports = append(s.reports, rep)
	s.mu.Unlock()
}

func (s *reportSink) all() []domain.ExecutionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func (s *reportSink) last() domain.ExecutionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[len(s.reports)-1]
}

func newPaperFixture(t *testing.T) (*PaperTradingSystem, *reportSink, *domain.Security) {
	t.Helper()
	p := NewPaperTradingSystem(Config{InitialCash: 100000, ExcessLiquidity: 100000}, nil, zerolog.Nop())
	sink := &reportSink{}
	p.SetReportHandler(sink.handle)

	sec := domain.NewSecurity("GLD", "ARCA", "USD", 100, 1)
	sec.SetLevel1(domain.Level1{
		BidPrice: 15990, BidSize: 100,
		AskPrice: 16000, AskSize: 100,
		LastPrice: 15995,
		Time:      time.Now().UTC(),
	})
	return p, sink, sec
}

func TestPaper_MarketOrderFillsAtTouch(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeMarket})
	require.NoError(t, err)

	rep := sink.last()
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)
	assert.Equal(t, domain.Qty(10), rep.FilledQty)
	assert.Equal(t, domain.Price(16000), rep.LastPrice) // buys lift the ask

	_, err = p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Sell, Qty: 10, Type: domain.OrderTypeMarket})
	require.NoError(t, err)
	assert.Equal(t, domain.Price(15990), sink.last().LastPrice)
}

func TestPaper_MarketOrderRejectedWithoutQuote(t *testing.T) {
	p, sink, _ := newPaperFixture(t)
	dark := domain.NewSecurity("XYZ", "ARCA", "USD", 100, 1)

	_, err := p.SendOrder(domain.OrderRequest{Security: dark, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeMarket})
	require.NoError(t, err)

	rep := sink.last()
	assert.Equal(t, domain.OrderStatusRejected, rep.Status)
	assert.Equal(t, "no quote available", rep.Reason)
}

func TestPaper_IOCPartialFill(t *testing.T) {
	p, sink, sec := newPaperFixture(t)
	sec.SetLevel1(domain.Level1{
		BidPrice: 15990, BidSize: 100,
		AskPrice: 16000, AskSize: 30,
		Time: time.Now().UTC(),
	})

	_, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Buy, Qty: 50,
		Type: domain.OrderTypeIOC, Price: 16000,
	})
	require.NoError(t, err)

	reports := sink.all()
	require.Len(t, reports, 2)
	assert.Equal(t, domain.OrderStatusFilled, reports[0].Status)
	assert.Equal(t, domain.Qty(30), reports[0].FilledQty)
	assert.Equal(t, domain.OrderStatusCanceled, reports[1].Status)
	assert.Equal(t, domain.Qty(20), reports[1].RemainingQty)
}

func TestPaper_IOCUnmarketableCancelsImmediately(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Buy, Qty: 10,
		Type: domain.OrderTypeIOC, Price: 15900, // below the ask
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, sink.last().Status)
}

func TestPaper_LimitRestsAndMatchesOnQuote(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Buy, Qty: 10,
		Type: domain.OrderTypeLimit, Price: 15950,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, sink.last().Status)

	// Ask drops through the limit.
	sec.SetLevel1(domain.Level1{BidPrice: 15930, AskPrice: 15940, Time: time.Now().UTC()})
	p.OnQuote(sec)

	rep := sink.last()
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)
	assert.Equal(t, domain.Price(15940), rep.LastPrice)
}

func TestPaper_MarketableLimitFillsImmediately(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Sell, Qty: 10,
		Type: domain.OrderTypeLimit, Price: 15980, // bid is above
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, sink.last().Status)
	assert.Equal(t, domain.Price(15990), sink.last().LastPrice)
}

func TestPaper_StopTriggersOnLastPrice(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Sell, Qty: 10,
		Type: domain.OrderTypeStopMarket, StopPrice: 15900,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, sink.last().Status)

	sec.SetLevel1(domain.Level1{BidPrice: 15880, AskPrice: 15890, LastPrice: 15890, Time: time.Now().UTC()})
	p.OnQuote(sec)

	rep := sink.last()
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)
	assert.Equal(t, domain.Price(15880), rep.LastPrice)
}

func TestPaper_CancelRestingOrder(t *testing.T) {
	p, sink, sec := newPaperFixture(t)

	id, err := p.SendOrder(domain.OrderRequest{
		Security: sec, Side: domain.Buy, Qty: 10,
		Type: domain.OrderTypeLimit, Price: 15000,
	})
	require.NoError(t, err)

	require.NoError(t, p.CancelOrder(id))
	rep := sink.last()
	assert.Equal(t, domain.OrderStatusCanceled, rep.Status)
	assert.Equal(t, domain.Qty(10), rep.RemainingQty)

	// The cancel already resolved; a second one is a no-op.
	require.NoError(t, p.CancelOrder(id))
	assert.Len(t, sink.all(), 2)
}

func TestPaper_CancelAllForSecurity(t *testing.T) {
	p, sink, sec := newPaperFixture(t)
	other := domain.NewSecurity("DGL", "ARCA", "USD", 100, 1)
	other.SetLevel1(domain.Level1{BidPrice: 5600, AskPrice: 5610, Time: time.Now().UTC()})

	_, err := p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeLimit, Price: 15000})
	require.NoError(t, err)
	_, err = p.SendOrder(domain.OrderRequest{Security: other, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeLimit, Price: 5000})
	require.NoError(t, err)

	require.NoError(t, p.CancelAllForSecurity("GLD"))

	canceled := 0
	for _, rep := range sink.all() {
		if rep.Status == domain.OrderStatusCanceled {
			canceled++
		}
	}
	assert.Equal(t, 1, canceled)
}

func TestPaper_FillsMoveCashBalance(t *testing.T) {
	p, _, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeMarket})
	require.NoError(t, err)

	snap, err := p.Account()
	require.NoError(t, err)
	assert.InDelta(t, 100000-10*160.00, snap.CashBalance, 1e-9)

	_, err = p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Sell, Qty: 10, Type: domain.OrderTypeMarket})
	require.NoError(t, err)
	snap, err = p.Account()
	require.NoError(t, err)
	assert.InDelta(t, 100000-10*160.00+10*159.90, snap.CashBalance, 1e-9)
}

func TestPaper_RejectsInvalidRequests(t *testing.T) {
	p, _, sec := newPaperFixture(t)

	_, err := p.SendOrder(domain.OrderRequest{Security: nil, Side: domain.Buy, Qty: 10, Type: domain.OrderTypeMarket})
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))

	_, err = p.SendOrder(domain.OrderRequest{Security: sec, Side: domain.Buy, Qty: 0, Type: domain.OrderTypeMarket})
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}
