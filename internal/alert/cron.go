// Package alert arms one-shot, wall-clock alerts on a cron runner. Alerts
// live only as long as the process: after a restart nothing is armed, which
// is exactly the state the restoration pass repairs.
package alert

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tazhate/packreminder/internal/domain"
)

// FireFunc receives an alert when its time is reached.
type FireFunc func(alertID string, payload domain.Payload)

// oneShot is a cron.Schedule that yields its time once.
type oneShot struct {
	at time.Time
}

func (o oneShot) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type armedEntry struct {
	entryID cron.EntryID
	firesAt time.Time
	payload domain.Payload
}

type CronService struct {
	cron *cron.Cron
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*armedEntry
	onFire  FireFunc
}

func NewCronService(location *time.Location) *CronService {
	if location == nil {
		location = time.Local
	}
	return &CronService{
		cron:    cron.New(cron.WithLocation(location)),
		now:     time.Now,
		entries: make(map[string]*armedEntry),
	}
}

// SetHandler installs the callback invoked for every fired alert.
func (s *CronService) SetHandler(fn FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = fn
}

func (s *CronService) Start() {
	s.cron.Start()
}

func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Arm schedules payload to fire at firesAt and returns the new alert id.
func (s *CronService) Arm(_ context.Context, firesAt time.Time, payload domain.Payload) (string, error) {
	if !firesAt.After(s.now()) {
		return "", fmt.Errorf("arm alert: fire time %s is not in the future", firesAt.Format(time.RFC3339))
	}

	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := s.cron.Schedule(oneShot{at: firesAt}, cron.FuncJob(func() { s.fire(id) }))
	s.entries[id] = &armedEntry{entryID: entryID, firesAt: firesAt, payload: payload}
	return id, nil
}

// Disarm removes a pending alert. Unknown or already fired ids yield
// domain.ErrAlertNotArmed.
func (s *CronService) Disarm(_ context.Context, alertID string) error {
	s.mu.Lock()
	e, ok := s.entries[alertID]
	if ok {
		delete(s.entries, alertID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("disarm %s: %w", alertID, domain.ErrAlertNotArmed)
	}
	s.cron.Remove(e.entryID)
	return nil
}

// ListArmed returns every pending alert ordered by fire time.
func (s *CronService) ListArmed(_ context.Context) ([]domain.ScheduledOccurrence, error) {
	s.mu.Lock()
	out := make([]domain.ScheduledOccurrence, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, domain.ScheduledOccurrence{
			AlertID: id,
			ListID:  e.payload.ListID,
			FiresAt: e.firesAt,
			Kind:    e.payload.Kind,
			Payload: e.payload,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FiresAt.Equal(out[j].FiresAt) {
			return out[i].AlertID < out[j].AlertID
		}
		return out[i].FiresAt.Before(out[j].FiresAt)
	})
	return out, nil
}

func (s *CronService) fire(alertID string) {
	s.mu.Lock()
	e, ok := s.entries[alertID]
	if ok {
		delete(s.entries, alertID)
	}
	handler := s.onFire
	s.mu.Unlock()

	if !ok {
		// Disarmed after the runner picked it up.
		return
	}
	s.cron.Remove(e.entryID)

	if handler == nil {
		log.Printf("Alert %s for list %s fired with no handler installed", alertID, e.payload.ListID)
		return
	}
	handler(alertID, e.payload)
}
