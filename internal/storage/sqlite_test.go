package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "reminders.db"))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	if v, err := s.Get(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("get missing: %q, %v", v, err)
	}
	if err := s.Put(ctx, "a:1", []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "a:1", []byte("uno")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.Get(ctx, "a:1")
	if err != nil || string(v) != "uno" {
		t.Fatalf("get: %q, %v", v, err)
	}
	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	if v, _ := s.Get(ctx, "a:1"); v != nil {
		t.Fatalf("value survived delete: %q", v)
	}
}

func TestListKeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, k := range []string{"reminder:meta:b", "reminder:meta:a", "reminder:ids:a", "reminder:meta_x"} {
		if err := s.Put(ctx, k, []byte("{}")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	keys, err := s.ListKeys(ctx, "reminder:meta:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"reminder:meta:a", "reminder:meta:b"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys %v, want %v", keys, want)
	}
}

func TestIndexSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(newTestStorage(t))

	spec := domain.ReminderSpec{
		ListID:       "trip-1",
		Title:        "Ski trip",
		Body:         "Pack the goggles",
		BaseDateTime: time.Date(2026, time.December, 1, 9, 0, 0, 0, time.UTC),
		Type:         domain.NotifyRecurring,
		Rule:         domain.RecurrenceRule{Kind: domain.RuleWeekly, Weekdays: []time.Weekday{time.Monday}},
	}
	in := domain.PersistedIndex{ListID: "trip-1", AlertIDs: []string{"x", "y"}, Spec: spec}
	if err := idx.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := idx.Load(ctx, "trip-1")
	if err != nil || out == nil {
		t.Fatalf("load: %v, %v", out, err)
	}
	if !reflect.DeepEqual(out.AlertIDs, in.AlertIDs) {
		t.Fatalf("alert ids %v", out.AlertIDs)
	}
	if out.Spec.Title != spec.Title || out.Spec.Rule.Kind != domain.RuleWeekly || !out.Spec.BaseDateTime.Equal(spec.BaseDateTime) {
		t.Fatalf("spec mismatch: %+v", out.Spec)
	}

	ids, err := idx.ListIDs(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"trip-1"}) {
		t.Fatalf("list ids: %v, %v", ids, err)
	}

	if err := idx.Delete(ctx, "trip-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out, err := idx.Load(ctx, "trip-1"); err != nil || out != nil {
		t.Fatalf("load after delete: %+v, %v", out, err)
	}
}

func TestIndexLoadIDsWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	if err := s.Put(ctx, "reminder:ids:orphan", []byte(`["a1"]`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	out, err := NewIndex(s).Load(ctx, "orphan")
	if err != nil || out == nil {
		t.Fatalf("load: %v, %v", out, err)
	}
	if len(out.AlertIDs) != 1 || out.AlertIDs[0] != "a1" {
		t.Fatalf("alert ids %v", out.AlertIDs)
	}
}
