package sched

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wabot/internal/storage"
	logx "wabot/pkg/logx"
)

type delivered struct {
	target, body string
}

func newTestService(t *testing.T, cfg Config) (*Service, chan delivered) {
	t.Helper()
	ch := make(chan delivered, 16)
	deliver := func(_ context.Context, target, body string) error {
		ch <- delivered{target: target, body: body}
		return nil
	}
	s := New(cfg, storage.NewMemory(), deliver, logx.Nop())
	return s, ch
}

func waitDelivery(t *testing.T, ch chan delivered) delivered {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return delivered{}
	}
}

func assertNoDelivery(t *testing.T, ch chan delivered) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func putTask(t *testing.T, s *Service, id string, trig Trigger, nextRun time.Time) {
	t.Helper()
	raw, err := json.Marshal(trig)
	if err != nil {
		t.Fatal(err)
	}
	err = s.store.UpsertTask(context.Background(), storage.TaskRecord{
		ID:        id,
		Target:    "201281835346",
		Body:      "reminder " + id,
		Trigger:   string(raw),
		NextRun:   nextRun,
		State:     storage.TaskScheduled,
		CreatedAt: nextRun.Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOneShotFiresOnceAndIsRemoved(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}
	putTask(t, s, "t1", trig, base)

	s.fireDue(ctx, base.Add(time.Second))
	d := waitDelivery(t, ch)
	if d.body != "reminder t1" {
		t.Fatalf("body = %q", d.body)
	}

	// Removed synchronously before dispatch, so a second scan finds nothing.
	if _, ok, _ := s.Get(ctx, "t1"); ok {
		t.Fatal("one-shot still present after firing")
	}
	s.fireDue(ctx, base.Add(2*time.Second))
	assertNoDelivery(t, ch)
}

func TestRecurringAdvancesBeforeDelivery(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindInterval, Every: time.Hour, Anchor: base, Timezone: "UTC"}
	putTask(t, s, "rec", trig, base.Add(time.Hour))

	now := base.Add(time.Hour + time.Second)
	s.fireDue(ctx, now)

	// fireDue persists the advanced slot before the delivery goroutine runs.
	rec, ok, err := s.store.GetTask(ctx, "rec")
	if err != nil || !ok {
		t.Fatalf("task gone: ok=%v err=%v", ok, err)
	}
	if want := base.Add(2 * time.Hour); !rec.NextRun.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", rec.NextRun, want)
	}
	waitDelivery(t, ch)

	// Same tick again: already advanced, nothing due.
	s.fireDue(ctx, now)
	assertNoDelivery(t, ch)
}

func TestTwoTasksDueSameTickEachFireOnce(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	putTask(t, s, "a", Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}, base)
	putTask(t, s, "b", Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}, base)

	s.fireDue(ctx, base.Add(time.Second))
	got := map[string]int{}
	for i := 0; i < 2; i++ {
		got[waitDelivery(t, ch).body]++
	}
	if got["reminder a"] != 1 || got["reminder b"] != 1 {
		t.Fatalf("deliveries = %v", got)
	}

	s.fireDue(ctx, base.Add(2*time.Second))
	assertNoDelivery(t, ch)
}

func TestMisfireSkipsRecurringOccurrence(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC", MisfireGrace: 5 * time.Minute})
	ctx := context.Background()

	trig := Trigger{Kind: KindInterval, Every: time.Hour, Anchor: base, Timezone: "UTC"}
	putTask(t, s, "rec", trig, base.Add(time.Hour))

	// Ten minutes late: beyond grace, the occurrence is skipped, not fired.
	now := base.Add(time.Hour + 10*time.Minute)
	s.fireDue(ctx, now)
	assertNoDelivery(t, ch)

	rec, ok, _ := s.store.GetTask(ctx, "rec")
	if !ok {
		t.Fatal("recurring task dropped on misfire")
	}
	if want := base.Add(2 * time.Hour); !rec.NextRun.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", rec.NextRun, want)
	}
}

func TestMisfireDropsOneShot(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC", MisfireGrace: 5 * time.Minute})
	ctx := context.Background()

	putTask(t, s, "old", Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}, base)

	s.fireDue(ctx, base.Add(time.Hour))
	assertNoDelivery(t, ch)
	if _, ok, _ := s.Get(ctx, "old"); ok {
		t.Fatal("lapsed one-shot still present")
	}
}

func TestWithinGraceStillFires(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC", MisfireGrace: 5 * time.Minute})
	ctx := context.Background()

	putTask(t, s, "late", Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}, base)

	s.fireDue(ctx, base.Add(4*time.Minute))
	waitDelivery(t, ch)
}

func TestScheduleCancelRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: time.Now().Add(time.Hour), Timezone: "UTC"}
	id, err := s.Schedule(ctx, "", "201281835346", "call mom", trig)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	ok, err := s.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	ok, err = s.Cancel(ctx, id)
	if err != nil || ok {
		t.Fatalf("second Cancel = %v, %v, want false", ok, err)
	}
}

func TestScheduleSameIDReplaces(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: time.Now().Add(time.Hour), Timezone: "UTC"}
	if _, err := s.Schedule(ctx, "morning", "x", "v1", trig); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(ctx, "morning", "x", "v2", trig); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Preview != "v2" {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestScheduleRejectsExhaustedTrigger(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Timezone: "UTC"})

	trig := Trigger{Kind: KindOnce, At: time.Now().Add(-time.Hour), Timezone: "UTC"}
	if _, err := s.Schedule(context.Background(), "", "x", "late", trig); err == nil {
		t.Fatal("expected error for past one-shot")
	}
}

func TestPauseBlocksFiringResumeRestores(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindInterval, Every: time.Hour, Anchor: time.Now(), Timezone: "UTC"}
	id, err := s.Schedule(ctx, "", "x", "ping", trig)
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := s.Pause(ctx, id); err != nil || !ok {
		t.Fatalf("Pause = %v, %v", ok, err)
	}
	s.fireDue(ctx, time.Now().Add(48*time.Hour))
	assertNoDelivery(t, ch)

	if ok, err := s.Resume(ctx, id); err != nil || !ok {
		t.Fatalf("Resume = %v, %v", ok, err)
	}
	sum, ok, _ := s.Get(ctx, id)
	if !ok || sum.State != storage.TaskScheduled {
		t.Fatalf("after resume: %+v, ok=%v", sum, ok)
	}
	if !sum.NextRun.After(time.Now()) {
		t.Fatalf("NextRun not in the future: %v", sum.NextRun)
	}
}

func TestResumeRemovesLapsedOneShot(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}
	raw, _ := json.Marshal(trig)
	_ = s.store.UpsertTask(ctx, storage.TaskRecord{
		ID: "stale", Target: "x", Body: "b",
		Trigger: string(raw), NextRun: base,
		State: storage.TaskPaused, CreatedAt: base,
	})

	ok, err := s.Resume(ctx, "stale")
	if err != nil || ok {
		t.Fatalf("Resume = %v, %v, want false", ok, err)
	}
	if _, present, _ := s.Get(ctx, "stale"); present {
		t.Fatal("lapsed one-shot survived resume")
	}
}

func TestListOrdersBySoonest(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, Config{Timezone: "UTC"})
	ctx := context.Background()

	later := Trigger{Kind: KindOnce, At: time.Now().Add(2 * time.Hour), Timezone: "UTC"}
	sooner := Trigger{Kind: KindOnce, At: time.Now().Add(time.Hour), Timezone: "UTC"}
	if _, err := s.Schedule(ctx, "later", "x", "b", later); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(ctx, "sooner", "x", "a", sooner); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "sooner" {
		t.Fatalf("order = %+v", tasks)
	}
}

func TestPollLoopFiresDueTask(t *testing.T) {
	t.Parallel()
	s, ch := newTestService(t, Config{Timezone: "UTC", PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: time.Now().Add(30 * time.Millisecond), Timezone: "UTC"}
	if _, err := s.Schedule(ctx, "", "201281835346", "soon", trig); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	d := waitDelivery(t, ch)
	if d.body != "soon" {
		t.Fatalf("body = %q", d.body)
	}

	hist := s.History()
	if len(hist) != 1 || hist[0].Error != "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestStopWaitsForInflightDeliveries(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	deliver := func(_ context.Context, _, _ string) error {
		time.Sleep(50 * time.Millisecond)
		close(done)
		return nil
	}
	s := New(Config{Timezone: "UTC", PollInterval: 10 * time.Millisecond},
		storage.NewMemory(), deliver, logx.Nop())
	ctx := context.Background()

	trig := Trigger{Kind: KindOnce, At: time.Now().Add(20 * time.Millisecond), Timezone: "UTC"}
	if _, err := s.Schedule(ctx, "", "x", "slow", trig); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Give the loop time to dispatch, then stop while delivery is running.
	time.Sleep(60 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("Stop returned before delivery finished")
	}
}
