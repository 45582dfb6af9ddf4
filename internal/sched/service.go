package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wabot/internal/storage"
	logx "wabot/pkg/logx"
)

// DeliverFunc delivers one scheduled message body to a target.
type DeliverFunc func(ctx context.Context, target, body string) error

// Service owns the task registry and the poll loop. Tasks live in the
// injected store, so schedules survive restarts; on startup the loop simply
// resumes scanning, applying the misfire policy to anything that lapsed
// while the process was down.
type Service struct {
	cfg     Config
	loc     *time.Location
	log     logx.Logger
	store   storage.TaskStore
	deliver DeliverFunc

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}

	wg sync.WaitGroup // in-flight deliveries

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, store storage.TaskStore, deliver DeliverFunc, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("invalid scheduler timezone, using local",
				logx.String("timezone", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	return &Service{
		cfg:     cfg,
		loc:     loc,
		log:     log,
		store:   store,
		deliver: deliver,
	}
}

// Location is the zone patterns are parsed in.
func (s *Service) Location() *time.Location { return s.loc }

// Start launches the poll loop. No-op when already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.stop, s.stopped)
	s.log.Info("scheduler started",
		logx.String("timezone", s.loc.String()),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Duration("misfire_grace", s.cfg.MisfireGrace))
	return nil
}

// Stop halts the poll loop and waits for in-flight deliveries, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		<-stopped
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loop(ctx context.Context, stop, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fireDue(ctx, time.Now())
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fireDue scans the store once and fires every due scheduled task.
// The next-fire time is advanced and persisted before the delivery goroutine
// starts, so an occurrence fires at most once even if delivery is slow or the
// process dies mid-send.
func (s *Service) fireDue(ctx context.Context, now time.Time) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		s.log.Error("task scan failed", logx.Err(err))
		return
	}

	for _, rec := range tasks {
		if rec.State != storage.TaskScheduled || rec.NextRun.IsZero() || rec.NextRun.After(now) {
			continue
		}

		var trig Trigger
		if err := json.Unmarshal([]byte(rec.Trigger), &trig); err != nil {
			s.log.Error("dropping task with unreadable trigger",
				logx.String("task_id", rec.ID), logx.Err(err))
			_, _ = s.store.DeleteTask(ctx, rec.ID)
			continue
		}

		late := now.Sub(rec.NextRun)
		if late > s.cfg.MisfireGrace {
			s.skipMissed(ctx, rec, trig, now, late)
			continue
		}

		if err := s.advance(ctx, rec.ID, trig, now); err != nil {
			s.log.Error("advancing task failed, occurrence withheld",
				logx.String("task_id", rec.ID), logx.Err(err))
			continue
		}

		s.wg.Add(1)
		go s.dispatch(ctx, rec)
	}
}

// skipMissed applies the misfire policy: recurring tasks move to their next
// occurrence, one-shots are removed.
func (s *Service) skipMissed(ctx context.Context, rec storage.TaskRecord, trig Trigger, now time.Time, late time.Duration) {
	next, ok := trig.Next(now)
	if ok {
		if err := s.store.UpdateTaskRun(ctx, rec.ID, next, storage.TaskScheduled); err != nil {
			s.log.Error("skipping missed occurrence failed",
				logx.String("task_id", rec.ID), logx.Err(err))
			return
		}
		s.log.Warn("missed occurrence skipped",
			logx.String("task_id", rec.ID),
			logx.Duration("late", late),
			logx.Time("next_run", next))
		return
	}
	_, _ = s.store.DeleteTask(ctx, rec.ID)
	s.log.Warn("missed one-shot dropped",
		logx.String("task_id", rec.ID),
		logx.Duration("late", late))
}

func (s *Service) advance(ctx context.Context, id string, trig Trigger, now time.Time) error {
	next, ok := trig.Next(now)
	if !ok {
		// One-shot: this occurrence is its last.
		_, err := s.store.DeleteTask(ctx, id)
		return err
	}
	return s.store.UpdateTaskRun(ctx, id, next, storage.TaskScheduled)
}

func (s *Service) dispatch(ctx context.Context, rec storage.TaskRecord) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery panicked",
				logx.String("task_id", rec.ID),
				logx.Any("panic", r))
		}
	}()

	started := time.Now()
	var err error
	if s.deliver == nil {
		err = fmt.Errorf("no delivery callback configured")
	} else {
		err = s.deliver(ctx, rec.Target, rec.Body)
	}
	item := HistoryItem{
		TaskID:   rec.ID,
		Target:   rec.Target,
		Started:  started,
		Duration: time.Since(started),
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Error("scheduled delivery failed",
			logx.String("task_id", rec.ID),
			logx.String("target", rec.Target),
			logx.Err(err))
	} else {
		s.log.Info("scheduled delivery sent",
			logx.String("task_id", rec.ID),
			logx.String("target", rec.Target))
	}
	s.record(item)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// History returns a copy of the delivery history, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// Schedule registers a task. An empty id is generated; a non-empty id
// replaces any existing task with the same id. Returns the task id.
func (s *Service) Schedule(ctx context.Context, id, target, body string, trig Trigger) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("empty target")
	}
	now := time.Now()
	next, ok := trig.Next(now)
	if !ok {
		return "", fmt.Errorf("trigger has no future occurrence")
	}
	if id == "" {
		id = "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	raw, err := json.Marshal(trig)
	if err != nil {
		return "", err
	}
	rec := storage.TaskRecord{
		ID:        id,
		Target:    target,
		Body:      body,
		Trigger:   string(raw),
		NextRun:   next,
		State:     storage.TaskScheduled,
		CreatedAt: now,
	}
	if err := s.store.UpsertTask(ctx, rec); err != nil {
		return "", err
	}
	s.log.Info("task scheduled",
		logx.String("task_id", id),
		logx.String("target", target),
		logx.String("trigger", trig.Describe()),
		logx.Time("next_run", next))
	return id, nil
}

// Cancel removes a task. Reports whether a task with that id existed.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.log.Info("task cancelled", logx.String("task_id", id))
	}
	return removed, nil
}

// Pause freezes a task. It keeps its stored next-fire time but the loop
// ignores it until resumed.
func (s *Service) Pause(ctx context.Context, id string) (bool, error) {
	rec, ok, err := s.store.GetTask(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := s.store.UpdateTaskRun(ctx, id, rec.NextRun, storage.TaskPaused); err != nil {
		return false, err
	}
	s.log.Info("task paused", logx.String("task_id", id))
	return true, nil
}

// Resume reactivates a paused task. A next-fire time that lapsed while
// paused is recomputed; a one-shot whose moment passed is removed and Resume
// reports false.
func (s *Service) Resume(ctx context.Context, id string) (bool, error) {
	rec, ok, err := s.store.GetTask(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	now := time.Now()
	next := rec.NextRun
	if next.IsZero() || !next.After(now) {
		var trig Trigger
		if err := json.Unmarshal([]byte(rec.Trigger), &trig); err != nil {
			_, _ = s.store.DeleteTask(ctx, id)
			return false, err
		}
		n, ok := trig.Next(now)
		if !ok {
			_, _ = s.store.DeleteTask(ctx, id)
			s.log.Warn("one-shot lapsed while paused, removed", logx.String("task_id", id))
			return false, nil
		}
		next = n
	}
	if err := s.store.UpdateTaskRun(ctx, id, next, storage.TaskScheduled); err != nil {
		return false, err
	}
	s.log.Info("task resumed", logx.String("task_id", id), logx.Time("next_run", next))
	return true, nil
}

// Get returns the summary for one task.
func (s *Service) Get(ctx context.Context, id string) (TaskSummary, bool, error) {
	rec, ok, err := s.store.GetTask(ctx, id)
	if err != nil || !ok {
		return TaskSummary{}, false, err
	}
	return summarize(rec), true, nil
}

// List returns all tasks ordered by next-fire time, soonest first.
// Tasks without a future occurrence sort last.
func (s *Service) List(ctx context.Context) ([]TaskSummary, error) {
	recs, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextRun, out[j].NextRun
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.Before(b)
		}
	})
	return out, nil
}
