// Package scheduler triggers batch jobs on cron or interval specs in the
// market time zone.
//
// Overlapping triggers of the same schedule are skipped, and a panicking job
// is recovered and logged. Execution happens on cron's goroutines.
package scheduler
