package service

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimogh/trdk/internal/domain"
)

func testSecurity() *domain.Security {
	return domain.NewSecurity("GLD", "ARCA", "USD", 100, 100)
}

func TestBarService_RejectsBadConfig(t *testing.T) {
	_, err := NewBarService("bars", nil, time.Minute, zerolog.Nop())
	assert.True(t, domain.IsConfigError(err))

	_, err = NewBarService("bars", testSecurity(), 0, zerolog.Nop())
	assert.True(t, domain.IsConfigError(err))
}

func TestBarService_AggregatesTrades(t *testing.T) {
	sec := testSecurity()
	svc, err := NewBarService("bars", sec, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2015, 3, 4, 10, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		{Time: base.Add(10 * time.Second), Price: 11530, Qty: 100},
		{Time: base.Add(30 * time.Second), Price: 11545, Qty: 200},
		{Time: base.Add(90 * time.Second), Price: 11520, Qty: 100},
	}
	for _, tr := range trades {
		assert.False(t, svc.OnNewTrade(sec, tr), "no completion inside the interval")
	}
	assert.Equal(t, 0, svc.Size())

	// First trade of the next interval completes the bar.
	changed := svc.OnNewTrade(sec, domain.Trade{Time: base.Add(5 * time.Minute), Price: 11525, Qty: 50})
	assert.True(t, changed)
	require.Equal(t, 1, svc.Size())

	bar, ok := svc.BarByReversedIndex(0)
	require.True(t, ok)
	assert.Equal(t, base, bar.Start)
	assert.Equal(t, domain.Price(11530), bar.Open)
	assert.Equal(t, domain.Price(11545), bar.High)
	assert.Equal(t, domain.Price(11520), bar.Low)
	assert.Equal(t, domain.Price(11520), bar.Close)
	assert.Equal(t, domain.Qty(400), bar.Volume)
}

func TestBarService_TracksQuoteExtremes(t *testing.T) {
	sec := testSecurity()
	svc, err := NewBarService("bars", sec, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2015, 3, 4, 10, 0, 0, 0, time.UTC)
	quotes := []domain.Level1{
		{AskPrice: 11540, BidPrice: 11535, Time: base.Add(5 * time.Second)},
		{AskPrice: 11550, BidPrice: 11530, Time: base.Add(20 * time.Second)},
		{AskPrice: 11545, BidPrice: 11538, Time: base.Add(40 * time.Second)},
	}
	for _, q := range quotes {
		sec.SetLevel1(q)
		svc.OnLevel1Update(sec)
	}

	sec.SetLevel1(domain.Level1{AskPrice: 11541, BidPrice: 11536, Time: base.Add(5 * time.Minute)})
	assert.True(t, svc.OnLevel1Update(sec))

	bar, ok := svc.BarByReversedIndex(0)
	require.True(t, ok)
	assert.Equal(t, domain.Price(11550), bar.MaxAskPrice)
	assert.Equal(t, domain.Price(11530), bar.MinBidPrice)
}

func TestBarService_IgnoresOtherSecurities(t *testing.T) {
	sec := testSecurity()
	other := domain.NewSecurity("DGL", "ARCA", "USD", 100, 100)
	svc, err := NewBarService("bars", sec, time.Minute, zerolog.Nop())
	require.NoError(t, err)

	changed := svc.OnNewTrade(other, domain.Trade{Time: time.Now(), Price: 100, Qty: 1})
	assert.False(t, changed)
	assert.Equal(t, 0, svc.Size())
}

func TestMovingAverage_ChainsOnBars(t *testing.T) {
	sec := testSecurity()
	bars, err := NewBarService("bars", sec, time.Minute, zerolog.Nop())
	require.NoError(t, err)
	ma, err := NewMovingAverageService("ma", bars, 3, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"bars"}, ma.RequiredServices())

	base := time.Date(2015, 3, 4, 10, 0, 0, 0, time.UTC)
	closes := []domain.Price{11500, 11510, 11520, 11530}
	for i, c := range closes {
		bars.OnNewTrade(sec, domain.Trade{Time: base.Add(time.Duration(i) * time.Minute), Price: c, Qty: 10})
	}
	// Three completed bars: 11500, 11510, 11520.
	require.Equal(t, 3, bars.Size())

	changed := ma.OnServiceDataUpdate(bars)
	assert.True(t, changed)
	v, ok := ma.Value()
	require.True(t, ok)
	assert.InDelta(t, 115.10, v, 1e-9)

	// Unchanged upstream state does not propagate.
	assert.False(t, ma.OnServiceDataUpdate(bars))
}

func TestMovingAverage_NotEnoughBars(t *testing.T) {
	sec := testSecurity()
	bars, _ := NewBarService("bars", sec, time.Minute, zerolog.Nop())
	ma, _ := NewMovingAverageService("ma", bars, 5, zerolog.Nop())

	assert.False(t, ma.OnServiceDataUpdate(bars))
	_, ok := ma.Value()
	assert.False(t, ok)
}
