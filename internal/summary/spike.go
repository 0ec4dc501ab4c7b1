package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/internal/quotes"
	logx "bsewatch/pkg/logx"
	"bsewatch/pkg/tgui"
)

const (
	DefaultSpikeThreshold = 3.0
	DefaultSpikeLookback  = 60 * time.Minute
)

// Spike is an intraday move of at least the configured threshold.
type Spike struct {
	Instrument model.WatchedInstrument
	Symbol     string
	From       decimal.Decimal
	To         decimal.Decimal
	ChangePct  decimal.Decimal
}

// SpikeDetector compares the latest intraday close with the close one
// lookback earlier.
type SpikeDetector struct {
	symbols   quotes.SymbolSource
	quotes    Quotes
	threshold decimal.Decimal
	lookback  time.Duration
	now       func() time.Time
	log       logx.Logger
}

func NewSpikeDetector(symbols quotes.SymbolSource, q Quotes, thresholdPct float64, lookback time.Duration, opts ...Option) *SpikeDetector {
	if thresholdPct <= 0 {
		thresholdPct = DefaultSpikeThreshold
	}
	if lookback <= 0 {
		lookback = DefaultSpikeLookback
	}
	// Options are shared with Builder.
	b := &Builder{now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		o(b)
	}
	return &SpikeDetector{
		symbols:   symbols,
		quotes:    q,
		threshold: decimal.NewFromFloat(thresholdPct),
		lookback:  lookback,
		now:       b.now,
		log:       b.log,
	}
}

// SpikeDigest is the rendered alert; Text is empty when nothing moved.
type SpikeDigest struct {
	Text   string
	Spikes []Spike
}

func (d SpikeDigest) Empty() bool { return len(d.Spikes) == 0 }

// Build scans insts and renders an alert for the ones that moved.
func (d *SpikeDetector) Build(ctx context.Context, insts []model.WatchedInstrument) (SpikeDigest, error) {
	rs, _, err := resolve(ctx, d.symbols, d.log, insts)
	if err != nil {
		return SpikeDigest{}, fmt.Errorf("spike scan: %w", err)
	}

	var out SpikeDigest
	for _, r := range rs {
		s, ok := d.quotes.Get(ctx, r.symbol, "1d", "5m")
		if !ok {
			continue
		}
		sp, ok := d.detect(s)
		if !ok {
			continue
		}
		sp.Instrument, sp.Symbol = r.inst, r.symbol
		out.Spikes = append(out.Spikes, sp)
	}
	if len(out.Spikes) == 0 {
		return out, nil
	}

	mins := int(d.lookback / time.Minute)
	msg := tgui.New().
		Line("🚀 Price Spike Alert").
		Linef("🕐 %s IST", d.now().In(market.IST).Format("2006-01-02 15:04:05")).
		Blank()
	for _, sp := range out.Spikes {
		arrow := "▲"
		if sp.ChangePct.IsNegative() {
			arrow = "▼"
		}
		msg.Linef("• %s (%s)", sp.Instrument.Name(), sp.Instrument.ExchangeCode).
			Linef("  - %s %s%% in %dm | Price: %s", arrow, sp.ChangePct.Abs().StringFixed(2), mins, money(&sp.To)).
			Blank()
	}
	out.Text = msg.Build().Text
	return out, nil
}

// detect picks the newest sample at or before last-lookback as the reference.
func (d *SpikeDetector) detect(s *model.Series) (Spike, bool) {
	last, ok := s.Last()
	if !ok {
		return Spike{}, false
	}
	cutoff := last.At.Add(-d.lookback)
	var ref *model.Sample
	for i := s.Len() - 1; i >= 0; i-- {
		if !s.Samples[i].At.After(cutoff) {
			ref = &s.Samples[i]
			break
		}
	}
	if ref == nil || ref.Close.IsZero() {
		return Spike{}, false
	}
	pct := last.Close.Sub(ref.Close).Div(ref.Close).Mul(decimal.NewFromInt(100))
	if pct.Abs().LessThan(d.threshold) {
		return Spike{}, false
	}
	return Spike{From: ref.Close, To: last.Close, ChangePct: pct}, true
}
