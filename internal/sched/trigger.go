package sched

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerKind string

const (
	KindOnce     TriggerKind = "once"
	KindCron     TriggerKind = "cron"
	KindInterval TriggerKind = "interval"
)

// Trigger is the closed set of recurrence rules. Exactly one kind is active;
// the other fields are ignored for that kind. The zero value is invalid.
//
// Cron fields left nil are wildcards. DayOfWeek uses 0 = Sunday.
//
// Trigger serializes to JSON as stored in the task store; resolving next-fire
// times from the stored form must stay idempotent across restarts.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// once
	At time.Time `json:"at,omitempty"`

	// cron
	Second     *int `json:"second,omitempty"`
	Minute     *int `json:"minute,omitempty"`
	Hour       *int `json:"hour,omitempty"`
	DayOfMonth *int `json:"day_of_month,omitempty"`
	DayOfWeek  *int `json:"day_of_week,omitempty"`

	// interval
	Every  time.Duration `json:"every,omitempty"`
	Anchor time.Time     `json:"anchor,omitempty"`

	// Timezone is the IANA zone wall-clock cron fields are evaluated in.
	Timezone string `json:"tz,omitempty"`
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Next resolves the soonest strictly-future occurrence after now.
// The second return is false when the trigger is exhausted (one-shot in the
// past) or malformed. Pure: no I/O, no clock access.
func (t Trigger) Next(now time.Time) (time.Time, bool) {
	switch t.Kind {
	case KindOnce:
		if t.At.After(now) {
			return t.At, true
		}
		return time.Time{}, false

	case KindInterval:
		if t.Every <= 0 {
			return time.Time{}, false
		}
		anchor := t.Anchor
		if anchor.IsZero() {
			anchor = now
		}
		if anchor.After(now) {
			return anchor, true
		}
		// anchor + k*every for the smallest k yielding a strictly-future
		// instant; computed from the anchor so repeated resolution never
		// drifts.
		elapsed := now.Sub(anchor)
		k := elapsed/t.Every + 1
		return anchor.Add(k * t.Every), true

	case KindCron:
		sched, err := cronParser.Parse(t.cronSpec())
		if err != nil {
			return time.Time{}, false
		}
		// The parser reports "no match within its horizon" as the zero time;
		// surface that as no occurrence instead of a zero NextRun.
		next := sched.Next(now.In(t.location()))
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

func (t Trigger) cronSpec() string {
	f := func(v *int) string {
		if v == nil {
			return "*"
		}
		return strconv.Itoa(*v)
	}
	sec := "0"
	if t.Second != nil {
		sec = strconv.Itoa(*t.Second)
	}
	return strings.Join([]string{sec, f(t.Minute), f(t.Hour), f(t.DayOfMonth), "*", f(t.DayOfWeek)}, " ")
}

func (t Trigger) location() *time.Location {
	tz := strings.TrimSpace(t.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// Describe renders the trigger for task listings.
func (t Trigger) Describe() string {
	switch t.Kind {
	case KindOnce:
		return "once at " + t.At.Format("2006-01-02 15:04")
	case KindInterval:
		return "every " + t.Every.String()
	case KindCron:
		var parts []string
		add := func(name string, v *int) {
			if v != nil {
				parts = append(parts, fmt.Sprintf("%s=%d", name, *v))
			}
		}
		add("dow", t.DayOfWeek)
		add("dom", t.DayOfMonth)
		add("hour", t.Hour)
		add("minute", t.Minute)
		if len(parts) == 0 {
			return "cron"
		}
		return "cron[" + strings.Join(parts, " ") + "]"
	default:
		return string(t.Kind)
	}
}

var reEveryPattern = regexp.MustCompile(`^every_(\d+)_(hours?|minutes?|days?)$`)

// ParsePattern builds a Trigger from a recurrence pattern name and an HH:MM
// time of day, relative to now in loc.
//
// Patterns: once, daily, weekly, monthly, every_N_hours, every_N_minutes,
// every_N_days. A "once" time already in the past rolls to the same time
// tomorrow. An unrecognized pattern falls back to daily at the requested
// time; fellBack reports that so the caller can log it.
func ParsePattern(pattern, timeOfDay string, now time.Time, loc *time.Location) (trig Trigger, fellBack bool, err error) {
	hour, minute, err := parseHHMM(timeOfDay)
	if err != nil {
		return Trigger{}, false, err
	}
	if loc == nil {
		loc = time.Local
	}

	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)

	tz := loc.String()
	pattern = strings.ToLower(strings.TrimSpace(pattern))

	switch {
	case pattern == "once":
		if !start.After(now) {
			start = start.AddDate(0, 0, 1)
		}
		return Trigger{Kind: KindOnce, At: start, Timezone: tz}, false, nil

	case pattern == "daily":
		return Trigger{Kind: KindCron, Hour: &hour, Minute: &minute, Timezone: tz}, false, nil

	case pattern == "weekly":
		dow := int(start.Weekday())
		return Trigger{Kind: KindCron, Hour: &hour, Minute: &minute, DayOfWeek: &dow, Timezone: tz}, false, nil

	case pattern == "monthly":
		dom := start.Day()
		return Trigger{Kind: KindCron, Hour: &hour, Minute: &minute, DayOfMonth: &dom, Timezone: tz}, false, nil

	case reEveryPattern.MatchString(pattern):
		m := reEveryPattern.FindStringSubmatch(pattern)
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil || n <= 0 {
			return Trigger{}, false, fmt.Errorf("invalid interval count in pattern %q", pattern)
		}
		var unit time.Duration
		switch {
		case strings.HasPrefix(m[2], "hour"):
			unit = time.Hour
		case strings.HasPrefix(m[2], "minute"):
			unit = time.Minute
		default:
			unit = 24 * time.Hour
		}
		return Trigger{
			Kind:     KindInterval,
			Every:    time.Duration(n) * unit,
			Anchor:   start,
			Timezone: tz,
		}, false, nil

	default:
		// Preserved behavior: unknown patterns degrade to daily at the
		// requested time rather than failing the schedule request.
		return Trigger{Kind: KindCron, Hour: &hour, Minute: &minute, Timezone: tz}, true, nil
	}
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
