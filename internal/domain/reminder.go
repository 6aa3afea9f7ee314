package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlertNotArmed is returned when disarming an alert that is not pending.
var ErrAlertNotArmed = errors.New("alert not armed")

type RuleKind string

const (
	RuleNone    RuleKind = "none"
	RuleDaily   RuleKind = "daily"
	RuleWeekly  RuleKind = "weekly"
	RuleMonthly RuleKind = "monthly"
)

// NotificationType decides whether a spec schedules anything at all.
type NotificationType string

const (
	NotifyNone      NotificationType = "none"
	NotifyOnce      NotificationType = "one-time"
	NotifyRecurring NotificationType = "recurring"
)

type OccurrenceKind string

const (
	KindOneTime        OccurrenceKind = "one-time"
	KindDaily          OccurrenceKind = "daily-occurrence"
	KindWeekly         OccurrenceKind = "weekly-occurrence"
	KindMonthly        OccurrenceKind = "monthly-occurrence"
	KindRefreshTrigger OccurrenceKind = "refresh-trigger"
)

// IsRefresh reports whether firing this kind re-runs expansion instead of notifying.
func (k OccurrenceKind) IsRefresh() bool {
	return k == KindRefreshTrigger
}

type RecurrenceRule struct {
	Kind     RuleKind       `json:"kind"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"` // 0-6 (Sun-Sat), weekly only
}

// SelectedWeekdays returns weekdays in first-seen order without duplicates.
func (r RecurrenceRule) SelectedWeekdays() []time.Weekday {
	seen := make(map[time.Weekday]bool, len(r.Weekdays))
	var out []time.Weekday
	for _, d := range r.Weekdays {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// ReminderSpec is one list's reminder configuration.
type ReminderSpec struct {
	ListID       string           `json:"list_id"`
	Title        string           `json:"title"`
	Body         string           `json:"body,omitempty"`
	BaseDateTime time.Time        `json:"base_date_time"`
	Rule         RecurrenceRule   `json:"rule"`
	Type         NotificationType `json:"type"`
}

// Active reports whether the spec should produce any occurrence.
func (s ReminderSpec) Active() bool {
	switch s.Type {
	case NotifyOnce:
		return true
	case NotifyRecurring:
		return s.Rule.Kind != "" && s.Rule.Kind != RuleNone
	default:
		return false
	}
}

func (s ReminderSpec) Validate() error {
	if s.ListID == "" {
		return fmt.Errorf("list id is required")
	}
	if s.BaseDateTime.IsZero() {
		return fmt.Errorf("base date time is required")
	}
	switch s.Type {
	case NotifyNone, NotifyOnce, NotifyRecurring, "":
	default:
		return fmt.Errorf("unknown notification type: %s", s.Type)
	}
	if s.Type != NotifyRecurring {
		return nil
	}
	switch s.Rule.Kind {
	case RuleNone, RuleDaily, RuleMonthly, "":
	case RuleWeekly:
		if len(s.Rule.SelectedWeekdays()) == 0 {
			return fmt.Errorf("weekly rule needs at least one weekday")
		}
	default:
		return fmt.Errorf("unknown recurrence rule: %s", s.Rule.Kind)
	}
	return nil
}

// DisplayBody is the notification text, falling back to a generic line.
func (s ReminderSpec) DisplayBody() string {
	if s.Body != "" {
		return s.Body
	}
	return "Time to check your list: " + s.Title
}

// Payload travels with every armed alert so the fired callback can act
// without reading persisted state.
type Payload struct {
	ListID       string           `json:"list_id"`
	Title        string           `json:"title"`
	Body         string           `json:"body,omitempty"`
	BaseDateTime time.Time        `json:"base_date_time"`
	Rule         RecurrenceRule   `json:"rule"`
	Type         NotificationType `json:"type"`
	Kind         OccurrenceKind   `json:"kind"`
}

func NewPayload(spec ReminderSpec, kind OccurrenceKind) Payload {
	return Payload{
		ListID:       spec.ListID,
		Title:        spec.Title,
		Body:         spec.Body,
		BaseDateTime: spec.BaseDateTime,
		Rule:         spec.Rule,
		Type:         spec.Type,
		Kind:         kind,
	}
}

// Spec rebuilds the reminder configuration embedded in the payload.
func (p Payload) Spec() ReminderSpec {
	return ReminderSpec{
		ListID:       p.ListID,
		Title:        p.Title,
		Body:         p.Body,
		BaseDateTime: p.BaseDateTime,
		Rule:         p.Rule,
		Type:         p.Type,
	}
}

// ScheduledOccurrence is one concrete alert as armed in the alert service.
type ScheduledOccurrence struct {
	AlertID string         `json:"alert_id"`
	ListID  string         `json:"list_id"`
	FiresAt time.Time      `json:"fires_at"`
	Kind    OccurrenceKind `json:"kind"`
	Payload Payload        `json:"payload"`
}

// PersistedIndex is the durable record of the alerts armed for one list.
type PersistedIndex struct {
	ListID    string       `json:"list_id"`
	AlertIDs  []string     `json:"alert_ids"`
	Spec      ReminderSpec `json:"spec"`
	UpdatedAt time.Time    `json:"updated_at"`
}
