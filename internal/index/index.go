// Package index maintains a searchable archive of chat messages on top of
// the message store. Messages are indexed as they arrive and on demand via
// backfill from chat history.
package index

import (
	"context"
	"strings"
	"time"

	"wabot/internal/bridge"
	"wabot/internal/storage"
	logx "wabot/pkg/logx"
)

// Stats describes the archive.
type Stats struct {
	Messages int64
}

// Hit is one search result.
type Hit struct {
	ChatID string
	Sender string
	Body   string
	At     time.Time
}

type Service struct {
	store storage.MessageStore
	log   logx.Logger
}

func New(store storage.MessageStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// Record indexes one message. Empty bodies (media without captions, system
// records) are skipped.
func (s *Service) Record(ctx context.Context, m bridge.Message) error {
	rec, ok := toRecord(m)
	if !ok {
		return nil
	}
	return s.store.PutMessage(ctx, rec)
}

// RecordAll indexes a batch, returning how many messages were stored.
// Indexing the same message twice is harmless; the store upserts by id.
func (s *Service) RecordAll(ctx context.Context, msgs []bridge.Message) (int, error) {
	stored := 0
	for _, m := range msgs {
		rec, ok := toRecord(m)
		if !ok {
			continue
		}
		if err := s.store.PutMessage(ctx, rec); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// Search finds indexed messages whose body contains query, newest first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	recs, err := s.store.SearchMessages(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(recs))
	for _, r := range recs {
		hits = append(hits, Hit{ChatID: r.ChatID, Sender: r.Sender, Body: r.Body, At: r.At})
	}
	return hits, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.store.CountMessages(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Messages: n}, nil
}

func toRecord(m bridge.Message) (storage.MessageRecord, bool) {
	if m.ID == "" || strings.TrimSpace(m.Body) == "" {
		return storage.MessageRecord{}, false
	}
	sender := m.From
	if m.IsGroup && m.Author != "" {
		sender = m.Author
	}
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return storage.MessageRecord{
		ID:     m.ID,
		ChatID: m.ChatID,
		Sender: sender,
		Body:   m.Body,
		At:     at,
	}, true
}
