// Package summary renders price digests for a subscriber's instruments: the
// end-of-day market update (price, MA50, MA200) and intraday spike alerts.
// All reads go through a quote cache; per-instrument failures only degrade
// the output.
package summary
