package service

import (
	"context"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/recurrence"
)

// AlertService arms one-shot alerts that fire their payload back at a wall-clock time.
type AlertService interface {
	Arm(ctx context.Context, firesAt time.Time, payload domain.Payload) (string, error)
	Disarm(ctx context.Context, alertID string) error
	ListArmed(ctx context.Context) ([]domain.ScheduledOccurrence, error)
}

// IndexStore persists one PersistedIndex per list.
// Load returns nil, nil when nothing is stored.
type IndexStore interface {
	Save(ctx context.Context, idx domain.PersistedIndex) error
	Load(ctx context.Context, listID string) (*domain.PersistedIndex, error)
	Delete(ctx context.Context, listID string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// Mirror receives a copy of every reminder, e.g. a CalDAV calendar.
type Mirror interface {
	PutReminder(ctx context.Context, spec domain.ReminderSpec) error
	DeleteReminder(ctx context.Context, listID string) error
}

// NotificationRuntime is the process-wide notification setup. It is built
// once at startup and handed to the reminder service.
type NotificationRuntime struct {
	Alerts   AlertService
	Store    IndexStore
	Expander *recurrence.Expander
	Mirror   Mirror
	Clock    func() time.Time

	// Enabled is false when the user has not allowed notifications; scheduling
	// then arms nothing.
	Enabled bool
	Debug   bool
}

func (rt *NotificationRuntime) now() time.Time {
	if rt.Clock == nil {
		return time.Now()
	}
	return rt.Clock()
}
