package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
)

// Task states persisted in the store.
const (
	TaskScheduled = "scheduled"
	TaskPaused    = "paused"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "memory": in-process only, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskRecord is one scheduled delivery. Trigger holds the JSON-encoded
// trigger parameters; the scheduler package owns that schema, storage treats
// it as opaque.
type TaskRecord struct {
	ID        string
	Target    string
	Body      string
	Trigger   string
	NextRun   time.Time // zero means no future occurrence
	State     string
	CreatedAt time.Time
}

// MessageRecord is one indexed chat message.
type MessageRecord struct {
	ID     string
	ChatID string
	Sender string
	Body   string
	At     time.Time
}

// TaskStore is the persistence port consumed by the scheduler.
type TaskStore interface {
	UpsertTask(ctx context.Context, t TaskRecord) error
	DeleteTask(ctx context.Context, id string) (bool, error)
	GetTask(ctx context.Context, id string) (TaskRecord, bool, error)
	ListTasks(ctx context.Context) ([]TaskRecord, error)
	// UpdateTaskRun persists an advanced next-fire time and state.
	UpdateTaskRun(ctx context.Context, id string, nextRun time.Time, state string) error
}

// MessageStore is the persistence port consumed by the message index.
type MessageStore interface {
	PutMessage(ctx context.Context, m MessageRecord) error
	SearchMessages(ctx context.Context, query string, limit int) ([]MessageRecord, error)
	CountMessages(ctx context.Context) (int64, error)
}

// Store is the full persistence API.
type Store interface {
	TaskStore
	MessageStore
	Close() error
}
