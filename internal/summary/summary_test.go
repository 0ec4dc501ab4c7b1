package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/internal/quotes"
)

type fakeQuotes map[string]*model.Series

func (f fakeQuotes) Get(_ context.Context, symbol, rng, interval string) (*model.Series, bool) {
	s, ok := f[symbol+"|"+rng+"|"+interval]
	return s, ok
}

func flatSeries(n int, start time.Time, step time.Duration, close func(i int) float64) *model.Series {
	s := &model.Series{}
	for i := 0; i < n; i++ {
		s.Samples = append(s.Samples, model.Sample{At: start.Add(time.Duration(i) * step), Close: decimal.NewFromFloat(close(i))})
	}
	return s
}

type failingSymbols struct{}

func (failingSymbols) Resolve(context.Context) (quotes.SymbolTable, error) {
	return nil, errors.New("no such file")
}

var fixedNow = time.Date(2024, 3, 5, 16, 0, 0, 0, market.IST)

func TestBuilder_Render(t *testing.T) {
	t.Parallel()
	day := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	q := fakeQuotes{
		// REL: intraday price, 200 daily closes 1..200
		"REL.NS|1d|1m": flatSeries(3, fixedNow, time.Minute, func(i int) float64 { return 2500.5 + float64(i) }),
		"REL.NS|1y|1d": flatSeries(200, day, 24*time.Hour, func(i int) float64 { return float64(i + 1) }),
		// TCS: no intraday, daily fallback; only 60 closes so MA200 is N/A
		"TCS.NS|5d|1d": flatSeries(2, day, 24*time.Hour, func(i int) float64 { return 3999.999 }),
		"TCS.NS|1y|1d": flatSeries(60, day, 24*time.Hour, func(i int) float64 { return 10 }),
		// INFY: nothing at all
	}
	syms := quotes.StaticSymbols{"500325": "REL.NS", "532540": "TCS.NS", "500209": "INFY.NS"}
	b := NewBuilder(syms, q, WithClock(func() time.Time { return fixedNow }))

	d, err := b.Build(context.Background(), []model.WatchedInstrument{
		{ExchangeCode: "500325", DisplayName: "Reliance"},
		{ExchangeCode: "532540", DisplayName: "TCS"},
		{ExchangeCode: "999999", DisplayName: "Ghost & Co"},
		{ExchangeCode: "500209"},
	})
	require.NoError(t, err)

	want := strings.Join([]string{
		"📊 Market Update",
		"🕐 2024-03-05 16:00:00 IST",
		"",
		"• Reliance (500325)",
		"  - Price: ₹2502.50",
		"  - MA50: ₹175.50 | MA200: ₹100.50",
		"",
		"• TCS (532540)",
		"  - Price: ₹4000.00",
		"  - MA50: ₹10.00 | MA200: N/A",
		"",
		"• 500209 (500209)",
		"  - Price: N/A",
		"  - MA50: N/A | MA200: N/A",
		"",
		"⚠️ Could not fetch data for: Ghost &amp; Co (999999), 500209 (INFY.NS)",
	}, "\n")
	require.Equal(t, want, d.Text)
	require.Len(t, d.Quotes, 3)
	require.Equal(t, []string{"Ghost & Co (999999)", "500209 (INFY.NS)"}, d.Failed)
}

func TestBuilder_NothingResolves(t *testing.T) {
	t.Parallel()
	b := NewBuilder(quotes.StaticSymbols{}, fakeQuotes{})
	d, err := b.Build(context.Background(), []model.WatchedInstrument{{ExchangeCode: "1"}})
	require.NoError(t, err)
	require.True(t, d.Empty())
}

func TestBuilder_SymbolTableFailureIsFatal(t *testing.T) {
	t.Parallel()
	_, err := NewBuilder(failingSymbols{}, fakeQuotes{}).Build(context.Background(), []model.WatchedInstrument{{ExchangeCode: "1"}})
	require.Error(t, err)
	_, err = NewSpikeDetector(failingSymbols{}, fakeQuotes{}, 0, 0).Build(context.Background(), nil)
	require.Error(t, err)
}

func TestMovingAverage(t *testing.T) {
	t.Parallel()
	s := flatSeries(4, time.Time{}, time.Minute, func(i int) float64 { return float64(i) }) // 0 1 2 3
	require.Nil(t, MovingAverage(s, 5))
	require.Nil(t, MovingAverage(nil, 1))
	require.Equal(t, "2.5", MovingAverage(s, 2).String())
	require.Equal(t, "1.5", MovingAverage(s, 4).String())
}

func TestSpikeDetector(t *testing.T) {
	t.Parallel()
	open := time.Date(2024, 3, 5, 3, 45, 0, 0, time.UTC)
	q := fakeQuotes{
		// 5m bars for 2h; +5% over the last hour
		"UP.NS|1d|5m": flatSeries(25, open, 5*time.Minute, func(i int) float64 {
			if i <= 12 {
				return 100
			}
			return 105
		}),
		// -4% over the last hour
		"DN.NS|1d|5m": flatSeries(25, open, 5*time.Minute, func(i int) float64 {
			if i <= 12 {
				return 200
			}
			return 192
		}),
		// +1% only
		"FLAT.NS|1d|5m": flatSeries(25, open, 5*time.Minute, func(i int) float64 { return 100 + float64(i)/24 }),
		// too short for the lookback
		"NEW.NS|1d|5m": flatSeries(3, open, 5*time.Minute, func(i int) float64 { return float64(1 + i*50) }),
	}
	syms := quotes.StaticSymbols{"1": "UP.NS", "2": "DN.NS", "3": "FLAT.NS", "4": "NEW.NS"}
	d := NewSpikeDetector(syms, q, 3, time.Hour, WithClock(func() time.Time { return fixedNow }))

	out, err := d.Build(context.Background(), []model.WatchedInstrument{
		{ExchangeCode: "1", DisplayName: "Up"},
		{ExchangeCode: "2", DisplayName: "Down"},
		{ExchangeCode: "3", DisplayName: "Flat"},
		{ExchangeCode: "4", DisplayName: "New"},
		{ExchangeCode: "5", DisplayName: "Unknown"},
	})
	require.NoError(t, err)
	require.Len(t, out.Spikes, 2)
	require.Contains(t, out.Text, "🚀 Price Spike Alert")
	require.Contains(t, out.Text, "• Up (1)\n  - ▲ 5.00% in 60m | Price: ₹105.00")
	require.Contains(t, out.Text, "• Down (2)\n  - ▼ 4.00% in 60m | Price: ₹192.00")
	require.NotContains(t, out.Text, "Flat")

	none, err := d.Build(context.Background(), []model.WatchedInstrument{{ExchangeCode: "3"}})
	require.NoError(t, err)
	require.True(t, none.Empty())
	require.Empty(t, none.Text)
}
