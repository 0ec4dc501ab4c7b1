package batch

import (
	"errors"
	"time"

	"bsewatch/internal/model"
)

const (
	JobAnnouncements  = "bse_announcements"
	JobSpikeAlerts    = "hourly_spike_alerts"
	JobEveningSummary = "evening_summary"
)

// Jobs lists the job names Run accepts.
var Jobs = []string{JobAnnouncements, JobSpikeAlerts, JobEveningSummary}

func KnownJob(name string) bool {
	for _, j := range Jobs {
		if j == name {
			return true
		}
	}
	return false
}

var (
	// ErrNotConfigured fails a whole invocation before any subscriber runs.
	ErrNotConfigured = errors.New("batch: not configured")
	ErrUnknownJob    = errors.New("batch: unknown job")
)

type Request struct {
	Job string
	// HoursBack narrows the disclosure window; <= 0 uses the configured default.
	HoursBack int
	// Force bypasses the market window gate.
	Force bool
}

type SubscriberError struct {
	SubscriberID model.SubscriberID `json:"user_id"`
	Error        string             `json:"error"`
}

// Result aggregates one invocation. Failed subscribers are counted in
// Skipped and listed in Errors.
type Result struct {
	RunID             string            `json:"run_id"`
	Job               string            `json:"job"`
	Processed         int               `json:"users_processed"`
	Skipped           int               `json:"users_skipped"`
	NotificationsSent int               `json:"notifications_sent"`
	Recipients        int               `json:"recipients"`
	Errors            []SubscriberError `json:"errors"`
	StartedAt         time.Time         `json:"started_at"`
	Duration          time.Duration     `json:"duration_ns"`
}

// Config tunes the orchestrator. Zero values take defaults.
type Config struct {
	Workers          int
	Deadline         time.Duration
	DefaultHoursBack int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Minute
	}
	if c.DefaultHoursBack <= 0 {
		c.DefaultHoursBack = 1
	}
	return c
}

// outcome is one subscriber's slot in the invocation.
type outcome struct {
	sub        model.SubscriberID
	processed  bool
	sent       int
	recipients int
	err        error
}
