package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/internal/quotes"
	logx "bsewatch/pkg/logx"
	"bsewatch/pkg/tgui"
)

// Quotes is the read side of quotes.Cache.
type Quotes interface {
	Get(ctx context.Context, symbol, rng, interval string) (*model.Series, bool)
}

const notAvailable = "N/A"

// InstrumentQuote is one rendered block of the market update.
type InstrumentQuote struct {
	Instrument model.WatchedInstrument
	Symbol     string
	Price      *decimal.Decimal
	MA50       *decimal.Decimal
	MA200      *decimal.Decimal
}

func (q InstrumentQuote) empty() bool { return q.Price == nil && q.MA50 == nil && q.MA200 == nil }

// Digest is a rendered price message. Text is empty when nothing resolved.
type Digest struct {
	Text   string
	Quotes []InstrumentQuote
	// Failed lists "name (symbol-or-code)" for instruments with no data.
	Failed []string
}

func (d Digest) Empty() bool { return strings.TrimSpace(d.Text) == "" }

// Builder produces the end-of-day market update.
type Builder struct {
	symbols quotes.SymbolSource
	quotes  Quotes
	now     func() time.Time
	log     logx.Logger
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }
func WithLogger(log logx.Logger) Option     { return func(b *Builder) { b.log = log } }

func NewBuilder(symbols quotes.SymbolSource, q Quotes, opts ...Option) *Builder {
	b := &Builder{symbols: symbols, quotes: q, now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// resolved pairs an instrument with its chart symbol.
type resolved struct {
	inst   model.WatchedInstrument
	symbol string
}

// resolve maps instruments to chart symbols. Unresolvable codes come back as
// footer entries. Only a symbol table load failure is an error.
func resolve(ctx context.Context, src quotes.SymbolSource, log logx.Logger, insts []model.WatchedInstrument) ([]resolved, []string, error) {
	tab, err := src.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	var out []resolved
	var missing []string
	for _, in := range insts {
		sym, ok := tab.Lookup(in.ExchangeCode)
		if !ok {
			log.Debug("no chart symbol", logx.String("code", in.ExchangeCode))
			missing = append(missing, fmt.Sprintf("%s (%s)", in.Name(), in.ExchangeCode))
			continue
		}
		out = append(out, resolved{inst: in, symbol: sym})
	}
	return out, missing, nil
}

// Build renders the market update for insts.
func (b *Builder) Build(ctx context.Context, insts []model.WatchedInstrument) (Digest, error) {
	rs, failed, err := resolve(ctx, b.symbols, b.log, insts)
	if err != nil {
		return Digest{}, fmt.Errorf("price summary: %w", err)
	}
	if len(rs) == 0 {
		return Digest{Failed: failed}, nil
	}

	msg := tgui.New().
		Line("📊 Market Update").
		Linef("🕐 %s IST", b.now().In(market.IST).Format("2006-01-02 15:04:05")).
		Blank()

	out := Digest{Quotes: make([]InstrumentQuote, 0, len(rs))}
	for _, r := range rs {
		q := b.quote(ctx, r)
		out.Quotes = append(out.Quotes, q)
		if q.empty() {
			failed = append(failed, fmt.Sprintf("%s (%s)", r.inst.Name(), r.symbol))
		}
		msg.Linef("• %s (%s)", r.inst.Name(), r.inst.ExchangeCode).
			Linef("  - Price: %s", money(q.Price)).
			Linef("  - MA50: %s | MA200: %s", money(q.MA50), money(q.MA200)).
			Blank()
	}
	if len(failed) > 0 {
		msg.Line("⚠️ Could not fetch data for: " + strings.Join(failed, ", "))
	}
	out.Failed = failed
	out.Text = msg.Build().Text
	return out, nil
}

func (b *Builder) quote(ctx context.Context, r resolved) InstrumentQuote {
	q := InstrumentQuote{Instrument: r.inst, Symbol: r.symbol}

	if s, ok := b.quotes.Get(ctx, r.symbol, "1d", "1m"); ok {
		q.Price = lastClose(s)
	}
	if q.Price == nil {
		if s, ok := b.quotes.Get(ctx, r.symbol, "5d", "1d"); ok {
			q.Price = lastClose(s)
		}
	}
	if s, ok := b.quotes.Get(ctx, r.symbol, "1y", "1d"); ok {
		q.MA50 = MovingAverage(s, 50)
		q.MA200 = MovingAverage(s, 200)
	}
	return q
}

func lastClose(s *model.Series) *decimal.Decimal {
	last, ok := s.Last()
	if !ok {
		return nil
	}
	return &last.Close
}

// MovingAverage is the mean of the newest n closes, or nil when the series
// is shorter than n.
func MovingAverage(s *model.Series, n int) *decimal.Decimal {
	if n <= 0 || s.Len() < n {
		return nil
	}
	sum := decimal.Zero
	for _, smp := range s.Samples[s.Len()-n:] {
		sum = sum.Add(smp.Close)
	}
	avg := sum.Div(decimal.NewFromInt(int64(n)))
	return &avg
}

func money(d *decimal.Decimal) string {
	if d == nil {
		return notAvailable
	}
	return "₹" + d.StringFixed(2)
}
