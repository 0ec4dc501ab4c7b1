package disclosure

import (
	"fmt"
	"sort"
	"time"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/pkg/tgui"
)

// MaxLinesPerInstrument caps digest lines per scrip. Attachments are not capped.
const MaxLinesPerInstrument = 5

// CaptionedDisclosure is a disclosure ready for attachment delivery.
type CaptionedDisclosure struct {
	model.Disclosure
	Name    string
	Caption string
}

// Digest is the consolidated announcement text (Telegram HTML) plus the
// per-item attachments, in input order.
type Digest struct {
	Text  string
	Items []CaptionedDisclosure
}

func (d Digest) Empty() bool { return len(d.Items) == 0 }

// Consolidate groups ds by scrip (groups ordered by their newest item, items
// newest first) and captions every item. names maps exchange code to display
// name; missing names fall back to the code. It performs no I/O.
func Consolidate(ds []model.Disclosure, names map[string]string, now time.Time) Digest {
	if len(ds) == 0 {
		return Digest{}
	}
	nameOf := func(code string) string {
		if n := names[code]; n != "" {
			return n
		}
		return code
	}

	sorted := append([]model.Disclosure(nil), ds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })

	var order []string
	groups := map[string][]model.Disclosure{}
	for _, d := range sorted {
		if _, ok := groups[d.ExchangeCode]; !ok {
			order = append(order, d.ExchangeCode)
		}
		groups[d.ExchangeCode] = append(groups[d.ExchangeCode], d)
	}

	b := tgui.New().
		Line("📰 BSE Announcements").
		Linef("🕐 %s IST", now.In(market.IST).Format("2006-01-02 15:04:05")).
		Blank()
	for _, code := range order {
		b.Linef("• %s", nameOf(code))
		items := groups[code]
		for _, d := range items[:min(len(items), MaxLinesPerInstrument)] {
			b.Linef("  - %s — %s", d.Time.In(market.IST).Format("02-01 15:04"), d.Headline)
		}
		b.Blank()
	}

	out := Digest{Text: b.Build().Text, Items: make([]CaptionedDisclosure, 0, len(ds))}
	for _, d := range ds {
		name := nameOf(d.ExchangeCode)
		out.Items = append(out.Items, CaptionedDisclosure{
			Disclosure: d,
			Name:       name,
			Caption:    Caption(name, d),
		})
	}
	return out
}

// Caption renders the attachment caption for one disclosure (HTML-escaped).
func Caption(name string, d model.Disclosure) string {
	return fmt.Sprintf("Company: %s\nAnnouncement: %s\nDate: %s IST",
		tgui.Esc(name), tgui.Esc(d.Headline), d.Time.In(market.IST).Format("02-01-2006 15:04"))
}
