package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tazhate/packreminder/internal/domain"
)

var errInjected = errors.New("injected failure")

type fakeAlerts struct {
	mu      sync.Mutex
	next    int
	armed   map[string]domain.ScheduledOccurrence
	failArm func(firesAt time.Time, kind domain.OccurrenceKind) bool
	listErr error
	arms    int
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{armed: make(map[string]domain.ScheduledOccurrence)}
}

func (f *fakeAlerts) Arm(_ context.Context, firesAt time.Time, payload domain.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arms++
	if f.failArm != nil && f.failArm(firesAt, payload.Kind) {
		return "", errInjected
	}
	f.next++
	id := fmt.Sprintf("alert-%d", f.next)
	f.armed[id] = domain.ScheduledOccurrence{
		AlertID: id,
		ListID:  payload.ListID,
		FiresAt: firesAt,
		Kind:    payload.Kind,
		Payload: payload,
	}
	return id, nil
}

func (f *fakeAlerts) Disarm(_ context.Context, alertID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.armed[alertID]; !ok {
		return domain.ErrAlertNotArmed
	}
	delete(f.armed, alertID)
	return nil
}

func (f *fakeAlerts) ListArmed(_ context.Context) ([]domain.ScheduledOccurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ScheduledOccurrence, 0, len(f.armed))
	for _, a := range f.armed {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiresAt.Before(out[j].FiresAt) })
	return out, nil
}

func (f *fakeAlerts) forList(listID string) []domain.ScheduledOccurrence {
	all, _ := f.ListArmed(context.Background())
	var out []domain.ScheduledOccurrence
	for _, a := range all {
		if a.ListID == listID {
			out = append(out, a)
		}
	}
	return out
}

// wipe drops every armed alert, like a process restart.
func (f *fakeAlerts) wipe() {
	f.mu.Lock()
	f.armed = make(map[string]domain.ScheduledOccurrence)
	f.mu.Unlock()
}

type memStore struct {
	mu      sync.Mutex
	data    map[string]domain.PersistedIndex
	saveErr error
	// failSaves fails that many Save calls before saveErr is consulted.
	failSaves int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]domain.PersistedIndex)}
}

func (m *memStore) Save(_ context.Context, idx domain.PersistedIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return errInjected
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[idx.ListID] = idx
	return nil
}

func (m *memStore) Load(_ context.Context, listID string) (*domain.PersistedIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.data[listID]
	if !ok {
		return nil, nil
	}
	return &idx, nil
}

func (m *memStore) Delete(_ context.Context, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, listID)
	return nil
}

func (m *memStore) ListIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeMirror struct {
	mu      sync.Mutex
	put     map[string]domain.ReminderSpec
	deleted []string
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{put: make(map[string]domain.ReminderSpec)}
}

func (m *fakeMirror) PutReminder(_ context.Context, spec domain.ReminderSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put[spec.ListID] = spec
	return nil
}

func (m *fakeMirror) DeleteReminder(_ context.Context, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.put, listID)
	m.deleted = append(m.deleted, listID)
	return nil
}
