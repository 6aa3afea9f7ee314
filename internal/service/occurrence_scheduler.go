package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/recurrence"
)

var (
	ErrNothingArmed          = errors.New("no occurrence could be armed")
	ErrInvalidSpec           = errors.New("invalid reminder spec")
	ErrNotificationsDisabled = errors.New("notifications are disabled")
)

// ArmFailure records one occurrence the alert service refused.
type ArmFailure struct {
	FiresAt time.Time
	Kind    domain.OccurrenceKind
	Err     error
}

// BatchResult is the outcome of arming one expansion.
type BatchResult struct {
	Index  domain.PersistedIndex
	Armed  []domain.ScheduledOccurrence
	Failed []ArmFailure
}

// PrimaryAlertID is the first armed user-facing occurrence, or "" if none.
func (r *BatchResult) PrimaryAlertID() string {
	if r == nil {
		return ""
	}
	for _, a := range r.Armed {
		if !a.Kind.IsRefresh() {
			return a.AlertID
		}
	}
	return ""
}

// SchedulingError reports a batch where nothing could be armed.
type SchedulingError struct {
	ListID string
	Failed []ArmFailure
}

func (e *SchedulingError) Error() string {
	msg := fmt.Sprintf("schedule %s: %d occurrences failed to arm", e.ListID, len(e.Failed))
	if len(e.Failed) > 0 {
		msg += fmt.Sprintf(" (first: %v)", e.Failed[0].Err)
	}
	return msg
}

func (e *SchedulingError) Unwrap() error {
	return ErrNothingArmed
}

// expandAndSchedule runs the expander at now and arms the result. Both the
// user-facing calls and the refresh/restore paths go through here. prior is
// the index the batch replaces, nil when the list was just cancelled.
func (s *ReminderService) expandAndSchedule(ctx context.Context, spec domain.ReminderSpec, prior *domain.PersistedIndex) (*BatchResult, error) {
	now := s.rt.now()
	exp, err := s.rt.Expander.Expand(spec, now)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", spec.ListID, err)
	}
	if s.rt.Debug {
		log.Printf("Expanded %s (%s/%s): %d occurrences, refresh at %v",
			spec.ListID, spec.Type, spec.Rule.Kind, len(exp.Occurrences), exp.RefreshAt)
	}
	return s.schedule(ctx, spec, exp.Intents(), prior)
}

// schedule arms every intent, tolerating individual failures, then replaces
// the persisted index for the list with the ids that were armed. If the index
// cannot be written the just-armed alerts are disarmed again so none are left
// without an index entry.
func (s *ReminderService) schedule(ctx context.Context, spec domain.ReminderSpec, intents []recurrence.Occurrence, prior *domain.PersistedIndex) (*BatchResult, error) {
	result := &BatchResult{}
	if len(intents) == 0 {
		return result, nil
	}

	for _, in := range intents {
		payload := domain.NewPayload(spec, in.Kind)
		id, err := s.rt.Alerts.Arm(ctx, in.FiresAt, payload)
		if err != nil {
			log.Printf("Failed to arm %s for list %s at %s: %v", in.Kind, spec.ListID, in.FiresAt.Format(time.RFC3339), err)
			result.Failed = append(result.Failed, ArmFailure{FiresAt: in.FiresAt, Kind: in.Kind, Err: err})
			continue
		}
		result.Armed = append(result.Armed, domain.ScheduledOccurrence{
			AlertID: id,
			ListID:  spec.ListID,
			FiresAt: in.FiresAt,
			Kind:    in.Kind,
			Payload: payload,
		})
	}

	if len(result.Armed) == 0 {
		return result, &SchedulingError{ListID: spec.ListID, Failed: result.Failed}
	}

	ids := make([]string, 0, len(result.Armed))
	for _, a := range result.Armed {
		ids = append(ids, a.AlertID)
	}
	result.Index = domain.PersistedIndex{
		ListID:    spec.ListID,
		AlertIDs:  ids,
		Spec:      spec,
		UpdatedAt: s.rt.now(),
	}

	if err := s.rt.Store.Save(ctx, result.Index); err != nil {
		s.rollback(ctx, spec.ListID, ids, prior)
		return nil, fmt.Errorf("persist index for %s: %w", spec.ListID, err)
	}

	if s.rt.Mirror != nil {
		if err := s.rt.Mirror.PutReminder(ctx, spec); err != nil {
			log.Printf("Failed to mirror reminder %s: %v", spec.ListID, err)
		}
	}

	log.Printf("Armed %d/%d alerts for list %s", len(result.Armed), len(intents), spec.ListID)
	return result, nil
}

// rollback disarms a batch whose index write failed. Without a prior index
// the partial entry is deleted. With one, the prior spec is written back with
// no alert ids so a later restore pass re-arms the list.
func (s *ReminderService) rollback(ctx context.Context, listID string, ids []string, prior *domain.PersistedIndex) {
	for _, id := range ids {
		if err := s.rt.Alerts.Disarm(ctx, id); err != nil {
			log.Printf("Failed to roll back alert %s for list %s: %v", id, listID, err)
		}
	}
	if prior == nil {
		if err := s.rt.Store.Delete(ctx, listID); err != nil {
			log.Printf("Failed to clear partial index for list %s: %v", listID, err)
		}
		return
	}

	keep := *prior
	keep.AlertIDs = nil
	if err := s.rt.Store.Save(ctx, keep); err != nil {
		log.Printf("Failed to write back index for list %s, leaving stored entry: %v", listID, err)
	}
}
