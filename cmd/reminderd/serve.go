package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/packreminder/config"
	"github.com/tazhate/packreminder/internal/alert"
	"github.com/tazhate/packreminder/internal/api"
	"github.com/tazhate/packreminder/internal/bot"
	"github.com/tazhate/packreminder/internal/clients/caldav"
	"github.com/tazhate/packreminder/internal/recurrence"
	"github.com/tazhate/packreminder/internal/scheduler"
	"github.com/tazhate/packreminder/internal/service"
	"github.com/tazhate/packreminder/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts := alert.NewCronService(cfg.Timezone)

	rt := &service.NotificationRuntime{
		Alerts:   alerts,
		Store:    storage.NewIndex(store),
		Expander: recurrence.NewExpander(recurrence.DefaultConfig()),
		Enabled:  cfg.NotificationsEnabled,
		Debug:    cfg.Debug,
	}

	if client := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar); client.IsConfigured() {
		if err := client.ResolveCalendar(ctx); err != nil {
			log.Printf("CalDAV mirror disabled: %v", err)
		} else {
			rt.Mirror = client
			log.Printf("Mirroring reminders to CalDAV at %s", cfg.CalDAV.URL)
		}
	}

	reminderSvc := service.NewReminderService(rt)

	sched := scheduler.New(scheduler.Options{
		Location:  cfg.Timezone,
		ChatID:    cfg.TelegramChatID,
		SweepSpec: cfg.RestoreSweep,
	}, alerts, reminderSvc)

	if cfg.TelegramEnabled() {
		tgBot, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, reminderSvc)
		if err != nil {
			log.Fatalf("Failed to init bot: %v", err)
		}
		sched.SetSender(tgBot)

		go func() {
			if err := tgBot.Start(ctx); err != nil {
				log.Printf("Bot error: %v", err)
			}
		}()
	} else {
		log.Println("Telegram not configured, reminders go to the log")
	}

	server := api.New(api.Options{
		Port:     cfg.ServerPort,
		Username: cfg.APIUsername,
		Password: cfg.APIPassword,
	}, reminderSvc)

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Printf("Scheduler error: %v", err)
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	log.Println("PackReminder started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			rep := sched.Resume(ctx)
			log.Printf("Resume: checked %d lists, restored %d", rep.Checked, len(rep.Restored))
			continue
		}
		break
	}

	log.Println("Shutting down...")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping API server: %v", err)
	}

	log.Println("PackReminder stopped")
	return nil
}
