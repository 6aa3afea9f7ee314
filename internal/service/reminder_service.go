package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/recurrence"
)

// ReminderService owns scheduling, cancellation, update and restoration of
// list reminders. Every operation on a list id runs under that list's lock.
type ReminderService struct {
	rt    *NotificationRuntime
	locks *keyedMutex
}

func NewReminderService(rt *NotificationRuntime) *ReminderService {
	if rt.Expander == nil {
		rt.Expander = recurrence.NewExpander(recurrence.DefaultConfig())
	}
	return &ReminderService{
		rt:    rt,
		locks: newKeyedMutex(),
	}
}

// ScheduleReminder arms the reminders for spec, replacing any batch the list
// already had, and returns the primary alert id. It returns "" with a nil
// error when notifications are disabled or the spec schedules nothing.
func (s *ReminderService) ScheduleReminder(ctx context.Context, spec domain.ReminderSpec) (string, error) {
	res, err := s.Update(ctx, spec)
	if err != nil {
		return "", err
	}
	return res.PrimaryAlertID(), nil
}

// UpdateReminders is ScheduleReminder for an existing list. An empty body
// keeps the body stored for the list.
func (s *ReminderService) UpdateReminders(ctx context.Context, spec domain.ReminderSpec) (string, error) {
	res, err := s.Edit(ctx, spec)
	if err != nil {
		return "", err
	}
	return res.PrimaryAlertID(), nil
}

// Edit is Update with the stored body carried over when spec has none.
func (s *ReminderService) Edit(ctx context.Context, spec domain.ReminderSpec) (*BatchResult, error) {
	if spec.Body == "" && spec.ListID != "" {
		if idx, err := s.rt.Store.Load(ctx, spec.ListID); err != nil {
			log.Printf("Failed to load stored reminder %s: %v", spec.ListID, err)
		} else if idx != nil {
			spec.Body = idx.Spec.Body
		}
	}
	return s.Update(ctx, spec)
}

// CancelReminders removes every alert and the persisted state for listID.
func (s *ReminderService) CancelReminders(ctx context.Context, listID string) error {
	return s.Cancel(ctx, listID)
}

// Update cancels whatever is armed for spec.ListID and, if the spec is
// active, expands and arms a fresh batch. Callers never observe the state
// between the two halves. While notifications are disabled an active spec
// is stored without alerts, for the first restore pass after re-enabling.
func (s *ReminderService) Update(ctx context.Context, spec domain.ReminderSpec) (*BatchResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	unlock := s.locks.Lock(spec.ListID)
	defer unlock()

	if !s.rt.Enabled && spec.Active() {
		log.Printf("Notifications disabled, storing list %s without alerts", spec.ListID)
		return s.parkLocked(ctx, spec)
	}

	if err := s.cancelLocked(ctx, spec.ListID); err != nil {
		return nil, err
	}
	if !spec.Active() {
		return &BatchResult{}, nil
	}
	return s.expandAndSchedule(ctx, spec, nil)
}

// parkLocked disarms anything live for the list and stores spec with an
// empty alert set.
func (s *ReminderService) parkLocked(ctx context.Context, spec domain.ReminderSpec) (*BatchResult, error) {
	idx, err := s.rt.Store.Load(ctx, spec.ListID)
	if err != nil {
		log.Printf("Failed to load index for list %s: %v", spec.ListID, err)
	}
	s.disarmAll(ctx, spec.ListID, idx)

	res := &BatchResult{Index: domain.PersistedIndex{
		ListID:    spec.ListID,
		Spec:      spec,
		UpdatedAt: s.rt.now(),
	}}
	if err := s.rt.Store.Save(ctx, res.Index); err != nil {
		return nil, fmt.Errorf("persist index for %s: %w", spec.ListID, err)
	}
	return res, nil
}

// Cancel is idempotent: a list with nothing stored is a no-op.
func (s *ReminderService) Cancel(ctx context.Context, listID string) error {
	unlock := s.locks.Lock(listID)
	defer unlock()
	return s.cancelLocked(ctx, listID)
}

func (s *ReminderService) cancelLocked(ctx context.Context, listID string) error {
	idx, err := s.rt.Store.Load(ctx, listID)
	if err != nil {
		// The scan in disarmAll still finds anything armed for the list.
		log.Printf("Failed to load index for list %s: %v", listID, err)
	}

	s.disarmAll(ctx, listID, idx)

	if err := s.rt.Store.Delete(ctx, listID); err != nil {
		return fmt.Errorf("delete index for %s: %w", listID, err)
	}
	if idx != nil && s.rt.Mirror != nil {
		if err := s.rt.Mirror.DeleteReminder(ctx, listID); err != nil {
			log.Printf("Failed to remove mirrored reminder %s: %v", listID, err)
		}
	}
	return nil
}

// disarmAll disarms the indexed alerts, then scans the live set for
// anything else tagged with listID. The index can lag the live set after a
// crash mid-update. Errors are logged and skipped.
func (s *ReminderService) disarmAll(ctx context.Context, listID string, idx *domain.PersistedIndex) int {
	disarmed := 0
	seen := make(map[string]bool)

	if idx != nil {
		for _, id := range idx.AlertIDs {
			seen[id] = true
			if err := s.rt.Alerts.Disarm(ctx, id); err != nil {
				if !errors.Is(err, domain.ErrAlertNotArmed) {
					log.Printf("Failed to disarm alert %s for list %s: %v", id, listID, err)
				}
				continue
			}
			disarmed++
		}
	}

	armed, err := s.rt.Alerts.ListArmed(ctx)
	if err != nil {
		log.Printf("Failed to list armed alerts while cancelling %s: %v", listID, err)
		return disarmed
	}
	for _, a := range armed {
		if a.ListID != listID || seen[a.AlertID] {
			continue
		}
		if err := s.rt.Alerts.Disarm(ctx, a.AlertID); err != nil {
			log.Printf("Failed to disarm stray alert %s for list %s: %v", a.AlertID, listID, err)
			continue
		}
		disarmed++
	}
	return disarmed
}

// List returns every persisted index.
func (s *ReminderService) List(ctx context.Context) ([]*domain.PersistedIndex, error) {
	ids, err := s.rt.Store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexed lists: %w", err)
	}
	out := make([]*domain.PersistedIndex, 0, len(ids))
	for _, id := range ids {
		idx, err := s.rt.Store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if idx != nil {
			out = append(out, idx)
		}
	}
	return out, nil
}

// Get returns the persisted index for listID, or nil.
func (s *ReminderService) Get(ctx context.Context, listID string) (*domain.PersistedIndex, error) {
	return s.rt.Store.Load(ctx, listID)
}

// Enabled reports whether the runtime is allowed to arm alerts.
func (s *ReminderService) Enabled() bool {
	return s.rt.Enabled
}

// Armed returns the live alert set.
func (s *ReminderService) Armed(ctx context.Context) ([]domain.ScheduledOccurrence, error) {
	return s.rt.Alerts.ListArmed(ctx)
}
