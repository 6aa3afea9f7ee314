package caldav

import "time"

// Calendar represents a CalDAV calendar
type Calendar struct {
	ID          string // Calendar path/URL
	DisplayName string
	URL         string
}

// Event is the calendar copy of one list's reminder
type Event struct {
	UID         string // Unique ID in CalDAV
	Summary     string // Title
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Alarms      []Alarm
	RRule       string // Recurrence rule (e.g., "FREQ=WEEKLY;BYDAY=MO")
}

// Alarm is a VALARM relative to the event start
type Alarm struct {
	MinutesBefore int
}
