package sched

import (
	"encoding/json"
	"testing"
	"time"
)

// Mon Aug 31 2026, 07:00 UTC.
var base = time.Date(2026, 8, 31, 7, 0, 0, 0, time.UTC)

func mustPattern(t *testing.T, pattern, at string, now time.Time) Trigger {
	t.Helper()
	trig, _, err := ParsePattern(pattern, at, now, time.UTC)
	if err != nil {
		t.Fatalf("ParsePattern(%q, %q): %v", pattern, at, err)
	}
	return trig
}

func TestDailyNextSameDayThenTomorrow(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "daily", "08:00", base)

	next, ok := trig.Next(base) // 07:00
	if !ok || !next.Equal(base.Add(time.Hour)) {
		t.Fatalf("from 07:00: next = %v, ok = %v", next, ok)
	}

	next, ok = trig.Next(base.Add(2 * time.Hour)) // 09:00
	want := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	if !ok || !next.Equal(want) {
		t.Fatalf("from 09:00: next = %v, want %v", next, want)
	}
}

func TestOnceInPastRollsToTomorrow(t *testing.T) {
	t.Parallel()
	now := base.Add(8 * time.Hour) // 15:00
	trig := mustPattern(t, "once", "14:30", now)

	want := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	if !trig.At.Equal(want) {
		t.Fatalf("At = %v, want %v", trig.At, want)
	}
	if next, ok := trig.Next(now); !ok || !next.Equal(want) {
		t.Fatalf("Next = %v, %v", next, ok)
	}
}

func TestOnceInFutureStaysToday(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "once", "14:30", base) // now 07:00

	want := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	if !trig.At.Equal(want) {
		t.Fatalf("At = %v, want %v", trig.At, want)
	}
}

func TestOnceExhaustedAfterFiring(t *testing.T) {
	t.Parallel()
	trig := Trigger{Kind: KindOnce, At: base, Timezone: "UTC"}
	if _, ok := trig.Next(base); ok {
		t.Fatal("occurrence at exactly now must not be future")
	}
	if _, ok := trig.Next(base.Add(time.Second)); ok {
		t.Fatal("past one-shot must be exhausted")
	}
}

func TestIntervalDoesNotDrift(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "every_2_hours", "07:00", base)

	// Just before the second occurrence: lands exactly on anchor+2h.
	next, ok := trig.Next(base.Add(2*time.Hour - time.Second))
	if !ok || !next.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("next = %v, ok = %v", next, ok)
	}

	// Resolving late stays on the anchored grid, never now+every.
	next, ok = trig.Next(base.Add(2*time.Hour + 17*time.Minute))
	if !ok || !next.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("late resolve: next = %v, want %v", next, base.Add(4*time.Hour))
	}
}

func TestIntervalMinutes(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "every_30_minutes", "07:00", base)
	if trig.Every != 30*time.Minute {
		t.Fatalf("Every = %v", trig.Every)
	}
	next, ok := trig.Next(base)
	if !ok || !next.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("next = %v, ok = %v", next, ok)
	}
}

func TestWeeklyMatchesStartWeekday(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "weekly", "08:00", base) // base is a Monday

	next, ok := trig.Next(base)
	if !ok {
		t.Fatal("no next")
	}
	if next.Weekday() != time.Monday || next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("next = %v", next)
	}
	if !next.Equal(base.Add(time.Hour)) {
		t.Fatalf("next = %v, want same-day 08:00", next)
	}

	after, ok := trig.Next(next)
	if !ok || !after.Equal(next.AddDate(0, 0, 7)) {
		t.Fatalf("following = %v, want one week later", after)
	}
}

func TestMonthlyMatchesStartDay(t *testing.T) {
	t.Parallel()
	trig := mustPattern(t, "monthly", "06:00", base) // day 31, 06:00 already past

	next, ok := trig.Next(base)
	if !ok {
		t.Fatal("no next")
	}
	// Next day-31 at 06:00 after Aug 31 07:00 is Oct 31 (September has 30 days).
	want := time.Date(2026, 10, 31, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestUnknownPatternFallsBackToDaily(t *testing.T) {
	t.Parallel()
	trig, fellBack, err := ParsePattern("fortnightly", "09:15", base, time.UTC)
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	if !fellBack {
		t.Fatal("fallback not reported")
	}
	if trig.Kind != KindCron || trig.Hour == nil || *trig.Hour != 9 || *trig.Minute != 15 {
		t.Fatalf("trigger = %+v", trig)
	}
}

func TestBadTimeRejected(t *testing.T) {
	t.Parallel()
	for _, at := range []string{"25:00", "08:65", "0800", "", "8"} {
		if _, _, err := ParsePattern("daily", at, base, time.UTC); err == nil {
			t.Errorf("time %q accepted", at)
		}
	}
}

func TestMalformedTriggersHaveNoNext(t *testing.T) {
	t.Parallel()
	for _, trig := range []Trigger{
		{},
		{Kind: KindInterval, Every: 0},
		{Kind: TriggerKind("lunar")},
	} {
		if _, ok := trig.Next(base); ok {
			t.Errorf("trigger %+v resolved a next time", trig)
		}
	}
}

func TestUnresolvableCronHasNoNext(t *testing.T) {
	t.Parallel()
	// A cron trigger that can never produce an occurrence must report
	// exhaustion, never a zero instant that would persist as a NextRun.
	dom := 0 // day-of-month below the valid range
	trig := Trigger{Kind: KindCron, DayOfMonth: &dom, Timezone: "UTC"}
	if next, ok := trig.Next(base); ok || !next.IsZero() {
		t.Fatalf("Next = %v, %v, want no occurrence", next, ok)
	}
}

func TestStoredTriggerResolvesIdentically(t *testing.T) {
	t.Parallel()
	orig := mustPattern(t, "daily", "08:00", base)

	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var loaded Trigger
	if err := json.Unmarshal(raw, &loaded); err != nil {
		t.Fatal(err)
	}

	n1, ok1 := orig.Next(base)
	n2, ok2 := loaded.Next(base)
	if ok1 != ok2 || !n1.Equal(n2) {
		t.Fatalf("stored trigger diverged: %v/%v vs %v/%v", n1, ok1, n2, ok2)
	}
}
