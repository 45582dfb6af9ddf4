package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is the in-process driver. It mirrors the sqlite driver's
// semantics (upsert, stable list order) so the scheduler behaves the same
// against either.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]TaskRecord
	messages map[string]MessageRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		tasks:    map[string]TaskRecord{},
		messages: map[string]MessageRecord{},
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) UpsertTask(_ context.Context, t TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tasks[t.ID]; ok && !prev.CreatedAt.IsZero() {
		t.CreatedAt = prev.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *memStore) DeleteTask(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	return ok, nil
}

func (s *memStore) GetTask(_ context.Context, id string) (TaskRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *memStore) ListTasks(_ context.Context) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) UpdateTaskRun(_ context.Context, id string, nextRun time.Time, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.NextRun = nextRun
	t.State = state
	s.tasks[id] = t
	return nil
}

func (s *memStore) PutMessage(_ context.Context, m MessageRecord) error {
	if m.ID == "" {
		return nil
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	s.mu.Lock()
	s.messages[m.ID] = m
	s.mu.Unlock()
	return nil
}

func (s *memStore) SearchMessages(_ context.Context, query string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.Lock()
	var hits []MessageRecord
	for _, m := range s.messages {
		if strings.Contains(strings.ToLower(m.Body), q) {
			hits = append(hits, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].At.After(hits[j].At) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *memStore) CountMessages(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}
