// Package storage persists the subscriber registry (watched instruments and
// recipients), the seen-disclosure ledger and the per-run log.
//
// Drivers:
//   - "sqlite": single database file (modernc.org/sqlite, no cgo)
//   - "postgres": pgx pool, schema managed by golang-migrate
//   - "file": in-memory state journaled to JSON Lines with snapshot compaction
//   - "memory": volatile, for tests and dry runs
package storage
