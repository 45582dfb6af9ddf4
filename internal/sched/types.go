package sched

import (
	"time"
)

// Config tunes the delivery engine. Zero fields take defaults.
type Config struct {
	Enabled bool

	// Timezone is the default IANA zone for pattern parsing and cron
	// evaluation.
	Timezone string

	// PollInterval is the due-task scan period (default 1s).
	PollInterval time.Duration

	// MisfireGrace is the maximum lateness at which a due occurrence still
	// fires (default 5m). Beyond it the occurrence is skipped: recurring
	// tasks advance, one-shots are dropped.
	MisfireGrace time.Duration

	// HistorySize caps the in-memory delivery history ring (default 200).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = 5 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// HistoryItem records one delivery attempt.
type HistoryItem struct {
	TaskID   string
	Target   string
	Started  time.Time
	Duration time.Duration
	Error    string // empty on success
}
