package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
)

var testNow = time.Date(2026, time.October, 20, 10, 0, 0, 0, time.UTC) // Tuesday

type fixture struct {
	alerts *fakeAlerts
	store  *memStore
	mirror *fakeMirror
	rt     *NotificationRuntime
	svc    *ReminderService
}

func newFixture() *fixture {
	f := &fixture{
		alerts: newFakeAlerts(),
		store:  newMemStore(),
		mirror: newFakeMirror(),
	}
	f.rt = &NotificationRuntime{
		Alerts:  f.alerts,
		Store:   f.store,
		Mirror:  f.mirror,
		Clock:   func() time.Time { return testNow },
		Enabled: true,
	}
	f.svc = NewReminderService(f.rt)
	return f
}

func dailySpec(listID string) domain.ReminderSpec {
	return domain.ReminderSpec{
		ListID:       listID,
		Title:        "Groceries",
		BaseDateTime: time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC),
		Rule:         domain.RecurrenceRule{Kind: domain.RuleDaily},
		Type:         domain.NotifyRecurring,
	}
}

func weeklySpec(listID string, days ...time.Weekday) domain.ReminderSpec {
	return domain.ReminderSpec{
		ListID:       listID,
		Title:        "Gym bag",
		BaseDateTime: time.Date(2026, time.October, 20, 18, 0, 0, 0, time.UTC),
		Rule:         domain.RecurrenceRule{Kind: domain.RuleWeekly, Weekdays: days},
		Type:         domain.NotifyRecurring,
	}
}

func TestScheduleDailyArmsWindowAndIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	id, err := f.svc.ScheduleReminder(ctx, dailySpec("L1"))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if id == "" {
		t.Fatal("expected a primary alert id")
	}

	armed := f.alerts.forList("L1")
	if len(armed) != 15 {
		t.Fatalf("got %d armed, want 14 occurrences + 1 refresh", len(armed))
	}

	idx, _ := f.store.Load(ctx, "L1")
	if idx == nil {
		t.Fatal("index not persisted")
	}
	if len(idx.AlertIDs) != 15 {
		t.Fatalf("index holds %d ids", len(idx.AlertIDs))
	}
	for _, a := range armed {
		if !containsID(idx.AlertIDs, a.AlertID) {
			t.Fatalf("armed alert %s missing from index", a.AlertID)
		}
	}
	if idx.AlertIDs[0] != id {
		t.Fatalf("primary id %s is not the first indexed id %s", id, idx.AlertIDs[0])
	}
	if _, ok := f.mirror.put["L1"]; !ok {
		t.Fatal("reminder not mirrored")
	}
}

func TestSchedulePartialFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	failAt := time.Date(2026, time.October, 23, 9, 0, 0, 0, time.UTC)
	f.alerts.failArm = func(at time.Time, _ domain.OccurrenceKind) bool { return at.Equal(failAt) }

	res, err := f.svc.Update(ctx, dailySpec("L1"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(res.Armed) != 14 || len(res.Failed) != 1 {
		t.Fatalf("armed %d failed %d", len(res.Armed), len(res.Failed))
	}
	if !res.Failed[0].FiresAt.Equal(failAt) {
		t.Fatalf("unexpected failure %+v", res.Failed[0])
	}
	idx, _ := f.store.Load(ctx, "L1")
	if idx == nil || len(idx.AlertIDs) != 14 {
		t.Fatalf("index: %+v", idx)
	}
}

func TestScheduleNothingArmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.alerts.failArm = func(time.Time, domain.OccurrenceKind) bool { return true }

	_, err := f.svc.ScheduleReminder(ctx, dailySpec("L1"))
	if !errors.Is(err, ErrNothingArmed) {
		t.Fatalf("got %v, want ErrNothingArmed", err)
	}
	var schedErr *SchedulingError
	if !errors.As(err, &schedErr) || len(schedErr.Failed) != 15 {
		t.Fatalf("scheduling error: %+v", schedErr)
	}
	if idx, _ := f.store.Load(ctx, "L1"); idx != nil {
		t.Fatalf("index written for empty batch: %+v", idx)
	}
}

func TestScheduleRollsBackWhenIndexWriteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.saveErr = errInjected

	_, err := f.svc.ScheduleReminder(ctx, dailySpec("L1"))
	if !errors.Is(err, errInjected) {
		t.Fatalf("got %v, want injected error", err)
	}
	if armed := f.alerts.forList("L1"); len(armed) != 0 {
		t.Fatalf("%d alerts left armed without an index", len(armed))
	}
}

func TestScheduleInvalidSpec(t *testing.T) {
	f := newFixture()
	spec := weeklySpec("L1")
	if _, err := f.svc.ScheduleReminder(context.Background(), spec); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("got %v, want ErrInvalidSpec", err)
	}
	if f.alerts.arms != 0 {
		t.Fatal("invalid spec reached the alert service")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.svc.ScheduleReminder(ctx, weeklySpec("L1", time.Monday, time.Wednesday)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.CancelReminders(ctx, "L1"); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}
	if armed := f.alerts.forList("L1"); len(armed) != 0 {
		t.Fatalf("%d alerts left after cancel", len(armed))
	}
	if idx, _ := f.store.Load(ctx, "L1"); idx != nil {
		t.Fatal("index left after cancel")
	}
	if err := f.svc.Cancel(ctx, "never-scheduled"); err != nil {
		t.Fatalf("cancel unknown list: %v", err)
	}
	if len(f.mirror.deleted) != 1 {
		t.Fatalf("mirror deletes: %v", f.mirror.deleted)
	}
}

func TestCancelDisarmsAlertsMissingFromIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.svc.ScheduleReminder(ctx, dailySpec("L1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// A stray alert left over from an interrupted update.
	stray, _ := f.alerts.Arm(ctx, testNow.Add(time.Hour), domain.NewPayload(dailySpec("L1"), domain.KindDaily))
	other, _ := f.alerts.Arm(ctx, testNow.Add(time.Hour), domain.NewPayload(dailySpec("L2"), domain.KindDaily))

	if err := f.svc.Cancel(ctx, "L1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if armed := f.alerts.forList("L1"); len(armed) != 0 {
		t.Fatalf("stray %s not disarmed: %+v", stray, armed)
	}
	if armed := f.alerts.forList("L2"); len(armed) != 1 || armed[0].AlertID != other {
		t.Fatalf("other list touched: %+v", armed)
	}
}

func TestUpdateReplacesBatchWithoutLeaks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.svc.ScheduleReminder(ctx, dailySpec("L1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	first, _ := f.store.Load(ctx, "L1")

	res, err := f.svc.Update(ctx, weeklySpec("L1", time.Monday, time.Wednesday))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	armed := f.alerts.forList("L1")
	if len(armed) != 9 {
		t.Fatalf("got %d armed after update, want 8 weekly + 1 refresh", len(armed))
	}
	for _, id := range first.AlertIDs {
		if containsID(res.Index.AlertIDs, id) {
			t.Fatalf("old alert %s survived the update", id)
		}
	}
	for _, a := range armed {
		if a.Kind == domain.KindDaily {
			t.Fatalf("daily alert leaked: %+v", a)
		}
	}

	if err := f.svc.Cancel(ctx, "L1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if armed := f.alerts.forList("L1"); len(armed) != 0 {
		t.Fatalf("%d alerts left after update+cancel", len(armed))
	}
}

func TestUpdateToInactiveOnlyCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.svc.ScheduleReminder(ctx, dailySpec("L1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	spec := dailySpec("L1")
	spec.Rule.Kind = domain.RuleNone
	id, err := f.svc.ScheduleReminder(ctx, spec)
	if err != nil || id != "" {
		t.Fatalf("got %q, %v", id, err)
	}
	if armed := f.alerts.forList("L1"); len(armed) != 0 {
		t.Fatalf("%d alerts left", len(armed))
	}
}

func TestUpdateRemindersKeepsStoredBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	spec := dailySpec("L1")
	spec.Body = "milk, eggs"
	if _, err := f.svc.ScheduleReminder(ctx, spec); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	spec.Body = ""
	spec.Title = "Groceries (weekend)"
	if _, err := f.svc.UpdateReminders(ctx, spec); err != nil {
		t.Fatalf("update: %v", err)
	}
	idx, _ := f.store.Load(ctx, "L1")
	if idx.Spec.Body != "milk, eggs" || idx.Spec.Title != "Groceries (weekend)" {
		t.Fatalf("stored spec: %+v", idx.Spec)
	}
}

func TestDisabledRuntimeArmsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.rt.Enabled = false

	id, err := f.svc.ScheduleReminder(ctx, dailySpec("L1"))
	if err != nil || id != "" {
		t.Fatalf("got %q, %v", id, err)
	}
	if f.alerts.arms != 0 {
		t.Fatalf("%d arm calls while disabled", f.alerts.arms)
	}
	if rep := f.svc.RestoreOnStartup(ctx); rep.Checked != 0 {
		t.Fatalf("restore ran while disabled: %+v", rep)
	}
}

func TestDisabledUpdateKeepsSpecForLaterRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if _, err := f.svc.ScheduleReminder(ctx, dailySpec("L1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	f.rt.Enabled = false

	edited := dailySpec("L1")
	edited.Title = "Farmers market"
	res, err := f.svc.Update(ctx, edited)
	if err != nil {
		t.Fatalf("update while disabled: %v", err)
	}
	if len(res.Armed) != 0 || len(f.alerts.forList("L1")) != 0 {
		t.Fatalf("alerts left armed while disabled: %+v", f.alerts.forList("L1"))
	}
	idx, _ := f.store.Load(ctx, "L1")
	if idx == nil || idx.Spec.Title != "Farmers market" || len(idx.AlertIDs) != 0 {
		t.Fatalf("stored index: %+v", idx)
	}

	f.rt.Enabled = true
	rep := f.svc.Restore(ctx, "test")
	if len(rep.Restored) != 1 || rep.Restored[0] != "L1" {
		t.Fatalf("report: %+v", rep)
	}
	armed := f.alerts.forList("L1")
	if len(armed) != 15 || armed[0].Payload.Title != "Farmers market" {
		t.Fatalf("restored %d alerts: %+v", len(armed), armed)
	}
}

func TestDisabledUpdateToInactiveCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.rt.Enabled = false

	if _, err := f.svc.ScheduleReminder(ctx, dailySpec("L1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	off := dailySpec("L1")
	off.Type = domain.NotifyNone
	if _, err := f.svc.Update(ctx, off); err != nil {
		t.Fatalf("update: %v", err)
	}
	if idx, _ := f.store.Load(ctx, "L1"); idx != nil {
		t.Fatalf("inactive spec still stored: %+v", idx)
	}
}

func TestOneTimeInPastFiresShortlyAfterNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	spec := domain.ReminderSpec{
		ListID:       "L1",
		Title:        "Passport",
		BaseDateTime: testNow.Add(-time.Hour),
		Type:         domain.NotifyOnce,
	}
	if _, err := f.svc.ScheduleReminder(ctx, spec); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	armed := f.alerts.forList("L1")
	if len(armed) != 1 || !armed[0].FiresAt.Equal(testNow.Add(30*time.Second)) {
		t.Fatalf("armed: %+v", armed)
	}
}

func TestConcurrentUpdatesLeaveOneBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spec := dailySpec("L1")
			if i%2 == 0 {
				spec = weeklySpec("L1", time.Friday)
			}
			if _, err := f.svc.Update(ctx, spec); err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	idx, _ := f.store.Load(ctx, "L1")
	armed := f.alerts.forList("L1")
	if len(armed) != len(idx.AlertIDs) {
		t.Fatalf("%d armed but %d indexed", len(armed), len(idx.AlertIDs))
	}
	for _, a := range armed {
		if !containsID(idx.AlertIDs, a.AlertID) {
			t.Fatalf("alert %s not in index", a.AlertID)
		}
	}
	if n := f.svc.locks.size(); n != 0 {
		t.Fatalf("%d list locks retained", n)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	// A different key is not blocked.
	k.Lock("b")()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("key never released")
	}
}
