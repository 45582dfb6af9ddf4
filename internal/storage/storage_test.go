package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "wabot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "wabot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			next := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			rec := TaskRecord{
				ID:      "msg_abc123",
				Target:  "201281835346",
				Body:    "Good morning",
				Trigger: `{"kind":"cron"}`,
				NextRun: next,
				State:   TaskScheduled,
			}
			if err := st.UpsertTask(ctx, rec); err != nil {
				t.Fatalf("UpsertTask: %v", err)
			}

			got, ok, err := st.GetTask(ctx, "msg_abc123")
			if err != nil || !ok {
				t.Fatalf("GetTask: ok=%v err=%v", ok, err)
			}
			if got.Target != rec.Target || got.Body != rec.Body || !got.NextRun.Equal(next) {
				t.Fatalf("round trip mismatch: %+v", got)
			}

			// Upsert with the same id replaces, not duplicates.
			rec.Body = "Good evening"
			if err := st.UpsertTask(ctx, rec); err != nil {
				t.Fatalf("UpsertTask replace: %v", err)
			}
			list, err := st.ListTasks(ctx)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(list) != 1 || list[0].Body != "Good evening" {
				t.Fatalf("expected single replaced task, got %+v", list)
			}
		})
	}
}

func TestUpdateTaskRunAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			rec := TaskRecord{ID: "t1", Target: "x", Body: "b", Trigger: "{}", State: TaskScheduled}
			if err := st.UpsertTask(ctx, rec); err != nil {
				t.Fatalf("UpsertTask: %v", err)
			}

			next := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond)
			if err := st.UpdateTaskRun(ctx, "t1", next, TaskPaused); err != nil {
				t.Fatalf("UpdateTaskRun: %v", err)
			}
			got, ok, _ := st.GetTask(ctx, "t1")
			if !ok || got.State != TaskPaused || !got.NextRun.Equal(next) {
				t.Fatalf("update not applied: %+v", got)
			}

			removed, err := st.DeleteTask(ctx, "t1")
			if err != nil || !removed {
				t.Fatalf("DeleteTask: removed=%v err=%v", removed, err)
			}
			removed, err = st.DeleteTask(ctx, "t1")
			if err != nil || removed {
				t.Fatalf("second delete should be a no-op, removed=%v err=%v", removed, err)
			}
		})
	}
}

func TestMessageSearch(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().Add(-time.Hour)
			msgs := []MessageRecord{
				{ID: "m1", ChatID: "c1", Sender: "alice", Body: "Meeting tomorrow at noon", At: base},
				{ID: "m2", ChatID: "c1", Sender: "bob", Body: "lunch plans?", At: base.Add(time.Minute)},
				{ID: "m3", ChatID: "c2", Sender: "alice", Body: "the MEETING moved", At: base.Add(2 * time.Minute)},
			}
			for _, m := range msgs {
				if err := st.PutMessage(ctx, m); err != nil {
					t.Fatalf("PutMessage: %v", err)
				}
			}

			hits, err := st.SearchMessages(ctx, "meeting", 10)
			if err != nil {
				t.Fatalf("SearchMessages: %v", err)
			}
			if len(hits) != 2 {
				t.Fatalf("expected 2 hits, got %d", len(hits))
			}
			// Newest first.
			if hits[0].ID != "m3" || hits[1].ID != "m1" {
				t.Fatalf("unexpected order: %s, %s", hits[0].ID, hits[1].ID)
			}

			n, err := st.CountMessages(ctx)
			if err != nil || n != 3 {
				t.Fatalf("CountMessages = %d, err=%v", n, err)
			}
		})
	}
}
