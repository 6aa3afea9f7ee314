// Package recurrence turns a reminder spec into the bounded batch of concrete
// alert times that should be armed right now.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/tazhate/packreminder/internal/domain"
)

// Config controls the size of each armed window. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// DailyCount is the number of daily occurrences per window. The refresh
	// trigger fires halfway through it.
	DailyCount int

	// WeeklyCount is the number of occurrences armed per selected weekday.
	WeeklyCount int
	// WeeklyRefreshDays is the offset in calendar days of the weekly refresh trigger.
	WeeklyRefreshDays int

	// MonthlyCount is the number of months covered, starting with the current one.
	MonthlyCount int
	// MonthlyRefreshDays is the offset in calendar days of the monthly refresh trigger.
	MonthlyRefreshDays int

	// PastGrace is added to now when a one-time reminder is set in the past.
	PastGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		DailyCount:         14,
		WeeklyCount:        4,
		WeeklyRefreshDays:  14,
		MonthlyCount:       3,
		MonthlyRefreshDays: 45,
		PastGrace:          30 * time.Second,
	}
}

// Occurrence is the intent to arm one alert.
type Occurrence struct {
	FiresAt time.Time
	Kind    domain.OccurrenceKind
}

// Expansion is the output of one expansion pass.
type Expansion struct {
	Occurrences []Occurrence
	RefreshAt   *time.Time
}

// Intents returns the occurrences followed by the refresh trigger, if any.
func (e Expansion) Intents() []Occurrence {
	out := make([]Occurrence, 0, len(e.Occurrences)+1)
	out = append(out, e.Occurrences...)
	if e.RefreshAt != nil {
		out = append(out, Occurrence{FiresAt: *e.RefreshAt, Kind: domain.KindRefreshTrigger})
	}
	return out
}

// Expander is a pure function of (spec, now).
type Expander struct {
	cfg Config
}

func NewExpander(cfg Config) *Expander {
	return &Expander{cfg: cfg}
}

// Expand uses DefaultConfig.
func Expand(spec domain.ReminderSpec, now time.Time) (Expansion, error) {
	return NewExpander(DefaultConfig()).Expand(spec, now)
}

// Expand computes future occurrences for spec as seen at now. Every returned
// time is strictly after now. Occurrences are ascending within a weekday or
// month run, but weekly runs are emitted one weekday after another.
func (e *Expander) Expand(spec domain.ReminderSpec, now time.Time) (Expansion, error) {
	if !spec.Active() {
		return Expansion{}, nil
	}
	if spec.Type == domain.NotifyOnce {
		return e.oneTime(spec, now), nil
	}

	switch spec.Rule.Kind {
	case domain.RuleDaily:
		return e.daily(spec, now)
	case domain.RuleWeekly:
		return e.weekly(spec, now)
	case domain.RuleMonthly:
		return e.monthly(spec, now), nil
	default:
		return Expansion{}, fmt.Errorf("unknown recurrence rule: %s", spec.Rule.Kind)
	}
}

func (e *Expander) oneTime(spec domain.ReminderSpec, now time.Time) Expansion {
	at := spec.BaseDateTime
	if !at.After(now) {
		at = now.Add(e.cfg.PastGrace)
	}
	return Expansion{Occurrences: []Occurrence{{FiresAt: at, Kind: domain.KindOneTime}}}
}

func (e *Expander) daily(spec domain.ReminderSpec, now time.Time) (Expansion, error) {
	base := spec.BaseDateTime.Truncate(time.Second)
	anchor := base
	if !anchor.After(now) {
		// Roll the anchor to the first daily step after now so that every
		// refresh produces a full window instead of a shrinking one.
		local := now.In(base.Location())
		anchor = atClock(local.Year(), local.Month(), local.Day(), base)
		if !anchor.After(now) {
			anchor = anchor.AddDate(0, 0, 1)
		}
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: anchor,
		Count:   e.cfg.DailyCount,
	})
	if err != nil {
		return Expansion{}, fmt.Errorf("build daily rule: %w", err)
	}

	var out Expansion
	for _, t := range rule.All() {
		if t.After(now) {
			out.Occurrences = append(out.Occurrences, Occurrence{FiresAt: t, Kind: domain.KindDaily})
		}
	}
	refresh := now.AddDate(0, 0, e.cfg.DailyCount/2)
	out.RefreshAt = &refresh
	return out, nil
}

func (e *Expander) weekly(spec domain.ReminderSpec, now time.Time) (Expansion, error) {
	base := spec.BaseDateTime.Truncate(time.Second)
	local := now.In(base.Location())

	var out Expansion
	for _, wd := range spec.Rule.SelectedWeekdays() {
		delta := (int(wd) - int(local.Weekday()) + 7) % 7
		first := atClock(local.Year(), local.Month(), local.Day()+delta, base)
		if !first.After(now) {
			first = first.AddDate(0, 0, 7)
		}

		rule, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Dtstart:   first,
			Count:     e.cfg.WeeklyCount,
			Byweekday: []rrule.Weekday{rruleWeekday(wd)},
		})
		if err != nil {
			return Expansion{}, fmt.Errorf("build weekly rule for %s: %w", wd, err)
		}
		for _, t := range rule.All() {
			out.Occurrences = append(out.Occurrences, Occurrence{FiresAt: t, Kind: domain.KindWeekly})
		}
	}
	refresh := now.AddDate(0, 0, e.cfg.WeeklyRefreshDays)
	out.RefreshAt = &refresh
	return out, nil
}

// monthly targets the base day-of-month in the current month and the ones
// after it. A day missing from the target month resolves to day 0 of that
// month, which is the last day of the month before it.
func (e *Expander) monthly(spec domain.ReminderSpec, now time.Time) Expansion {
	base := spec.BaseDateTime.Truncate(time.Second)
	local := now.In(base.Location())
	day := base.Day()

	var out Expansion
	var last time.Time
	for i := 0; i < e.cfg.MonthlyCount; i++ {
		month := local.Month() + time.Month(i)
		var t time.Time
		if day > daysIn(local.Year(), month) {
			t = atClock(local.Year(), month, 0, base)
		} else {
			t = atClock(local.Year(), month, day, base)
		}
		if !t.After(now) || t.Equal(last) {
			continue
		}
		last = t
		out.Occurrences = append(out.Occurrences, Occurrence{FiresAt: t, Kind: domain.KindMonthly})
	}
	refresh := now.AddDate(0, 0, e.cfg.MonthlyRefreshDays)
	out.RefreshAt = &refresh
	return out
}

// atClock builds the given date at base's time of day in base's location.
// Out-of-range days and months are normalized by time.Date.
func atClock(year int, month time.Month, day int, base time.Time) time.Time {
	return time.Date(year, month, day, base.Hour(), base.Minute(), base.Second(), 0, base.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func rruleWeekday(d time.Weekday) rrule.Weekday {
	days := []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}
	return days[d]
}
