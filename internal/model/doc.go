// Package model holds the records shared by the dispatch pipeline:
// subscribers' watched instruments and recipients, disclosures, the
// seen-disclosure ledger rows, price series and per-run log entries.
package model
