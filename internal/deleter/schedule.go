package deleter

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule decides when the next queue-process cron tick is due. Two
// implementations exist: cronSchedule, backed by robfig/cron/v3's
// expression parser, and fallbackSchedule, a field-rollover scheduler
// for the named intervals that needs no expression parser at all.
type Schedule interface {
	Next(prev time.Time) time.Time
}

// namedIntervals maps the named interval strings onto standard 5-field
// cron expressions, so both forms flow through the same parser and
// jitter-seconds treatment below.
var namedIntervals = map[string]string{
	"minutely": "* * * * *",
	"hourly":   "0 * * * *",
	"daily":    "0 0 * * *",
	"weekly":   "0 0 * * 0",
	"monthly":  "0 0 1 * *",
}

// cronParser accepts a 6-field expression (seconds first) plus the
// descriptor shorthands (@hourly etc.); this is the parser robfig/cron's
// WithSeconds option installs.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronSchedule struct {
	sched cron.Schedule
}

func (c cronSchedule) Next(prev time.Time) time.Time {
	return c.sched.Next(prev)
}

// jitterSeconds derives a stable, per-host second offset (0-59) from the
// hostname, so a fleet of identically configured staging hosts doesn't
// hit the tape server in the same second every hour/day.
func jitterSeconds(hostname string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return int(h.Sum32() % 60)
}

// ParseSchedule builds the production Schedule for
// deleter_queueprocinterval: named intervals are expanded to their
// 5-field cron equivalent, a jitter-seconds field is prepended, and the
// result is parsed by robfig/cron/v3.
func ParseSchedule(raw, hostname string) (Schedule, error) {
	expr := strings.TrimSpace(raw)
	if named, ok := namedIntervals[expr]; ok {
		expr = named
	}

	full := fmt.Sprintf("%d %s", jitterSeconds(hostname), expr)
	sched, err := cronParser.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("parsing deleter_queueprocinterval %q: %w", raw, err)
	}
	return cronSchedule{sched: sched}, nil
}

// fallbackLayouts gives the Go reference-time layout covering the
// smallest time field that distinguishes each named interval, e.g. the
// day-of-month for daily. Weekly has no single Go layout token for
// week-of-year, so fallbackSchedule.Next handles it with weekday
// arithmetic instead of a Format comparison.
var fallbackLayouts = map[string]string{
	"minutely": "200601021504",
	"hourly":   "2006010215",
	"daily":    "20060102",
	"monthly":  "200601",
}

// FallbackLayout returns the strftime-equivalent Go layout used by the
// fallback scheduler for a named interval, and whether one exists
// (weekly does not; see fallbackLayouts).
func FallbackLayout(period string) (string, bool) {
	l, ok := fallbackLayouts[period]
	return l, ok
}

// fallbackSchedule needs no expression parser: it fires whenever the
// distinguishing time field of its period rolls over. Next returns the
// start of the following period, which is the point at which a
// formatted timestamp in the period's layout would next differ.
type fallbackSchedule struct {
	period string // one of namedIntervals' keys
}

func (f fallbackSchedule) Next(prev time.Time) time.Time {
	switch f.period {
	case "minutely":
		return prev.Truncate(time.Minute).Add(time.Minute)
	case "hourly":
		return prev.Truncate(time.Hour).Add(time.Hour)
	case "daily":
		y, m, d := prev.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, prev.Location()).AddDate(0, 0, 1)
	case "weekly":
		y, m, d := prev.Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, prev.Location())
		daysToNext := 7 - int(prev.Weekday())
		if daysToNext == 0 {
			daysToNext = 7
		}
		return midnight.AddDate(0, 0, daysToNext)
	case "monthly":
		y, m, _ := prev.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, prev.Location()).AddDate(0, 1, 0)
	default:
		return prev.Add(time.Hour)
	}
}

// ParseFallback builds the rollover Schedule for one of the named
// intervals. Crontab-style expressions have no fallback translation and
// are rejected.
func ParseFallback(raw string) (Schedule, error) {
	expr := strings.TrimSpace(raw)
	if _, ok := namedIntervals[expr]; !ok {
		return nil, fmt.Errorf("fallback scheduler only supports named intervals (minutely/hourly/daily/weekly/monthly), got %q", raw)
	}
	return fallbackSchedule{period: expr}, nil
}
