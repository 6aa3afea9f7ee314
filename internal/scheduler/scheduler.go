package scheduler

import (
	"context"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/packreminder/internal/alert"
	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/service"
)

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// AlertRunner is the part of the alert service the scheduler drives.
type AlertRunner interface {
	SetHandler(fn alert.FireFunc)
	Start()
	Stop()
}

type Options struct {
	Location *time.Location
	ChatID   int64
	// SweepSpec is a cron spec for the periodic restore pass. Empty disables it.
	SweepSpec string
}

// Scheduler is the process runtime around the reminder service: it owns the
// alert runner, runs the restore passes and delivers fired reminders.
type Scheduler struct {
	cron            *cron.Cron
	opts            Options
	alerts          AlertRunner
	reminderService *service.ReminderService
	sender          MessageSender
}

func New(opts Options, alerts AlertRunner, reminderSvc *service.ReminderService) *Scheduler {
	location := opts.Location
	if location == nil {
		location = time.Local
	}

	s := &Scheduler{
		cron:            cron.New(cron.WithLocation(location)),
		opts:            opts,
		alerts:          alerts,
		reminderService: reminderSvc,
		sender:          LogSender{},
	}
	alerts.SetHandler(s.onFire)
	return s
}

func (s *Scheduler) SetSender(sender MessageSender) {
	if sender == nil {
		sender = LogSender{}
	}
	s.sender = sender
}

// Start restores lost reminders, starts the alert runner and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.reminderService.RestoreOnStartup(ctx)

	if s.opts.SweepSpec != "" {
		if _, err := s.cron.AddFunc(s.opts.SweepSpec, s.sweep); err != nil {
			return fmt.Errorf("add restore sweep: %w", err)
		}
	}

	s.alerts.Start()
	s.cron.Start()
	log.Printf("Scheduler started (TZ: %s, sweep: %q)", s.cron.Location(), s.opts.SweepSpec)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.alerts.Stop()
	log.Println("Scheduler stopped")
}

// Resume runs the restore pass used when the process comes back, e.g. on SIGHUP.
func (s *Scheduler) Resume(ctx context.Context) service.RestoreReport {
	return s.reminderService.RestoreOnResume(ctx)
}

func (s *Scheduler) sweep() {
	s.reminderService.Restore(context.Background(), "sweep")
}

func (s *Scheduler) onFire(alertID string, payload domain.Payload) {
	ctx := context.Background()

	if !payload.Kind.IsRefresh() {
		if err := s.sender.SendMessage(s.opts.ChatID, FormatReminder(payload)); err != nil {
			log.Printf("Error sending reminder %s for list %s: %v", alertID, payload.ListID, err)
		}
	}

	if err := s.reminderService.HandleFired(ctx, alertID, payload); err != nil {
		log.Printf("Error handling fired alert %s for list %s: %v", alertID, payload.ListID, err)
	}
}

// FormatReminder renders a fired occurrence as an HTML chat message.
func FormatReminder(p domain.Payload) string {
	return fmt.Sprintf("🔔 <b>%s</b>\n\n%s", html.EscapeString(p.Title), html.EscapeString(p.Spec().DisplayBody()))
}

// LogSender writes messages to the log when no chat transport is configured.
type LogSender struct{}

func (LogSender) SendMessage(chatID int64, text string) error {
	log.Printf("Reminder for chat %d: %s", chatID, text)
	return nil
}
