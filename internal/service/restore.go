package service

import (
	"context"
	"fmt"
	"log"

	"github.com/tazhate/packreminder/internal/domain"
)

// RestoreReport summarizes one restoration pass.
type RestoreReport struct {
	Checked  int
	Restored []string
	Failed   []string
}

func (s *ReminderService) RestoreOnStartup(ctx context.Context) RestoreReport {
	return s.Restore(ctx, "startup")
}

func (s *ReminderService) RestoreOnResume(ctx context.Context) RestoreReport {
	return s.Restore(ctx, "resume")
}

// Restore re-arms every restorable list that has no alert left in the live
// set, e.g. after the process restarted. A list with at least one live alert
// is left alone; partial loss is repaired by the next refresh trigger.
// Failures are logged and retried on the next pass.
func (s *ReminderService) Restore(ctx context.Context, reason string) RestoreReport {
	var report RestoreReport
	if !s.rt.Enabled {
		return report
	}

	listIDs, err := s.rt.Store.ListIDs(ctx)
	if err != nil {
		log.Printf("Restore (%s): failed to list stored reminders: %v", reason, err)
		return report
	}
	if _, err := s.rt.Alerts.ListArmed(ctx); err != nil {
		log.Printf("Restore (%s): failed to list armed alerts, nothing restored: %v", reason, err)
		return report
	}

	for _, listID := range listIDs {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		restored, err := s.restoreList(ctx, listID)
		if err != nil {
			log.Printf("Restore (%s): list %s: %v", reason, listID, err)
			report.Failed = append(report.Failed, listID)
			continue
		}
		if restored {
			report.Restored = append(report.Restored, listID)
		}
	}

	if len(report.Restored) > 0 || len(report.Failed) > 0 {
		log.Printf("Restore (%s): checked %d lists, restored %d, failed %d",
			reason, report.Checked, len(report.Restored), len(report.Failed))
	}
	return report
}

func (s *ReminderService) restoreList(ctx context.Context, listID string) (bool, error) {
	unlock := s.locks.Lock(listID)
	defer unlock()

	idx, err := s.rt.Store.Load(ctx, listID)
	if err != nil {
		return false, err
	}
	if idx == nil || !s.restorable(idx.Spec) {
		return false, nil
	}

	live, err := s.hasLiveAlert(ctx, listID)
	if err != nil {
		return false, err
	}
	if live {
		return false, nil
	}

	if _, err := s.rescheduleLocked(ctx, idx.Spec, idx); err != nil {
		return false, err
	}
	return true, nil
}

// restorable is true for recurring specs with a rule, and for one-time
// specs whose time has not come yet. A one-time reminder at or before now
// has fired or was due while the process was down; arming it again would
// deliver it twice.
func (s *ReminderService) restorable(spec domain.ReminderSpec) bool {
	switch spec.Type {
	case domain.NotifyRecurring:
		return spec.Active()
	case domain.NotifyOnce:
		return spec.BaseDateTime.After(s.rt.now())
	}
	return false
}

func (s *ReminderService) hasLiveAlert(ctx context.Context, listID string) (bool, error) {
	armed, err := s.rt.Alerts.ListArmed(ctx)
	if err != nil {
		return false, fmt.Errorf("list armed alerts: %w", err)
	}
	for _, a := range armed {
		if a.ListID == listID {
			return true, nil
		}
	}
	return false, nil
}

// HandleFired is the fired-alert entry point. A refresh trigger drops what
// is left of the list's batch and arms the next window from the spec carried
// in the payload. A fired one-time reminder clears the list's index, since
// nothing is left to deliver. Delivering reminders to the user is the
// caller's job.
func (s *ReminderService) HandleFired(ctx context.Context, alertID string, payload domain.Payload) error {
	switch {
	case payload.Kind == domain.KindOneTime:
		return s.completeOneTime(ctx, alertID, payload.ListID)
	case !payload.Kind.IsRefresh():
		return nil
	}

	unlock := s.locks.Lock(payload.ListID)
	defer unlock()

	idx, err := s.rt.Store.Load(ctx, payload.ListID)
	if err != nil {
		return fmt.Errorf("load index for %s: %w", payload.ListID, err)
	}
	// A trigger missing from the index belongs to a batch that was cancelled
	// or replaced while it was firing.
	if idx == nil || !containsID(idx.AlertIDs, alertID) {
		log.Printf("Ignoring stale refresh trigger %s for list %s", alertID, payload.ListID)
		return nil
	}
	if !s.rt.Enabled {
		return nil
	}

	res, err := s.rescheduleLocked(ctx, payload.Spec(), idx)
	if err != nil {
		return err
	}
	log.Printf("Refreshed list %s: %d alerts armed", payload.ListID, len(res.Armed))
	return nil
}

func (s *ReminderService) completeOneTime(ctx context.Context, alertID, listID string) error {
	unlock := s.locks.Lock(listID)
	defer unlock()

	idx, err := s.rt.Store.Load(ctx, listID)
	if err != nil {
		return fmt.Errorf("load index for %s: %w", listID, err)
	}
	// The list was rescheduled after this alert was armed.
	if idx == nil || !containsID(idx.AlertIDs, alertID) {
		return nil
	}
	if err := s.cancelLocked(ctx, listID); err != nil {
		return err
	}
	log.Printf("One-time reminder for list %s delivered, index cleared", listID)
	return nil
}

// rescheduleLocked disarms the current batch but keeps the stored metadata,
// so a failed re-arm is retried by the next restore pass.
func (s *ReminderService) rescheduleLocked(ctx context.Context, spec domain.ReminderSpec, idx *domain.PersistedIndex) (*BatchResult, error) {
	s.disarmAll(ctx, spec.ListID, idx)
	return s.expandAndSchedule(ctx, spec, idx)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
