package sched

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"wabot/internal/storage"
)

// TaskSummary is the read-only view of a task for listings.
type TaskSummary struct {
	ID        string
	Target    string
	Preview   string // body truncated for display
	Trigger   string // human-readable recurrence
	NextRun   time.Time
	State     string
	CreatedAt time.Time
}

const previewLen = 50

func summarize(rec storage.TaskRecord) TaskSummary {
	desc := "?"
	var trig Trigger
	if err := json.Unmarshal([]byte(rec.Trigger), &trig); err == nil {
		desc = trig.Describe()
	}
	return TaskSummary{
		ID:        rec.ID,
		Target:    rec.Target,
		Preview:   truncate(rec.Body, previewLen),
		Trigger:   desc,
		NextRun:   rec.NextRun,
		State:     rec.State,
		CreatedAt: rec.CreatedAt,
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
