package caldav

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/packreminder/internal/domain"
)

const eventDuration = 15 * time.Minute

// EventUID is the stable calendar UID of a list's reminder.
func EventUID(listID string) string {
	return listID + "@packreminder"
}

// ReminderEvent converts a reminder spec into its calendar event.
func ReminderEvent(spec domain.ReminderSpec) *Event {
	start := firstStart(spec)
	return &Event{
		UID:         EventUID(spec.ListID),
		Summary:     spec.Title,
		Description: spec.DisplayBody(),
		StartTime:   start,
		EndTime:     start.Add(eventDuration),
		Alarms:      []Alarm{{MinutesBefore: 0}},
		RRule:       RRuleFor(spec),
	}
}

// RRuleFor returns the RRULE value for spec, or "" for a one-time reminder.
func RRuleFor(spec domain.ReminderSpec) string {
	if spec.Type != domain.NotifyRecurring {
		return ""
	}

	var opt rrule.ROption
	switch spec.Rule.Kind {
	case domain.RuleDaily:
		opt.Freq = rrule.DAILY
	case domain.RuleWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range spec.Rule.SelectedWeekdays() {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	case domain.RuleMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{spec.BaseDateTime.Day()}
	default:
		return ""
	}
	return opt.RRuleString()
}

var weekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// firstStart moves a weekly event's DTSTART onto the first selected weekday
// so that DTSTART is itself an instance of the rule.
func firstStart(spec domain.ReminderSpec) time.Time {
	start := spec.BaseDateTime
	if spec.Type != domain.NotifyRecurring || spec.Rule.Kind != domain.RuleWeekly {
		return start
	}
	selected := make(map[time.Weekday]bool)
	for _, d := range spec.Rule.SelectedWeekdays() {
		selected[d] = true
	}
	for i := 0; i < 7; i++ {
		if selected[start.Weekday()] {
			break
		}
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// eventToICS converts an Event to iCalendar format
func eventToICS(event *Event) *ical.Calendar {
	cal := newCalendar()
	cal.Children = append(cal.Children, eventComponent(event))
	return cal
}

// BuildCalendar renders every spec as one VEVENT of a single calendar.
func BuildCalendar(specs []domain.ReminderSpec) *ical.Calendar {
	cal := newCalendar()
	for _, spec := range specs {
		cal.Children = append(cal.Children, eventComponent(ReminderEvent(spec)))
	}
	return cal
}

// Encode writes cal in iCalendar format.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//PackReminder//CalDAV//EN")
	return cal
}

func eventComponent(event *Event) *ical.Component {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetText(ical.PropSummary, event.Summary)

	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}

	// Convert to UTC explicitly - iCalendar will use Z suffix
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	if !event.EndTime.IsZero() {
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	}

	// SetText would escape the commas in BYDAY lists.
	if event.RRule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = event.RRule
		vevent.Props.Set(prop)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	for _, a := range event.Alarms {
		valarm := ical.NewComponent(ical.CompAlarm)
		valarm.Props.SetText(ical.PropAction, "DISPLAY")
		valarm.Props.SetText(ical.PropDescription, event.Summary)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = fmt.Sprintf("-PT%dM", a.MinutesBefore)
		valarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, valarm)
	}

	return vevent.Component
}
