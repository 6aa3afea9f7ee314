package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/packreminder/config"
	"github.com/tazhate/packreminder/internal/clients/caldav"
	"github.com/tazhate/packreminder/internal/domain"
	"github.com/tazhate/packreminder/internal/recurrence"
	"github.com/tazhate/packreminder/internal/storage"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "reminderd",
		Short:        "Recurring list reminders that survive restarts",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $REMINDER_CONFIG)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openIndex() (*storage.Storage, *storage.Index, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return store, storage.NewIndex(store), cfg, nil
}

func loadAll(ctx context.Context, idx *storage.Index) ([]*domain.PersistedIndex, error) {
	ids, err := idx.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.PersistedIndex
	for _, id := range ids {
		p, err := idx.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, idx, _, err := openIndex()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := loadAll(cmd.Context(), idx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No reminders.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LIST\tTITLE\tTYPE\tRULE\tBASE\tALERTS\tUPDATED")
			for _, p := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					p.ListID, p.Spec.Title, p.Spec.Type, ruleString(p.Spec.Rule),
					p.Spec.BaseDateTime.Format("2006-01-02 15:04"), len(p.AlertIDs),
					p.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func ruleString(r domain.RecurrenceRule) string {
	if r.Kind != domain.RuleWeekly {
		return string(r.Kind)
	}
	s := "weekly:"
	for i, d := range r.SelectedWeekdays() {
		if i > 0 {
			s += ","
		}
		s += domain.WeekdayNameShort(d)
	}
	return s
}

func previewCmd() *cobra.Command {
	var (
		rule     string
		weekdays string
		at       string
		kind     string
		now      string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the occurrences a reminder would arm right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			base, err := parseTime(at, cfg.Timezone)
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
			current := time.Now().In(cfg.Timezone)
			if now != "" {
				if current, err = parseTime(now, cfg.Timezone); err != nil {
					return fmt.Errorf("parse --now: %w", err)
				}
			}
			days, err := domain.ParseWeekdays(weekdays)
			if err != nil {
				return err
			}

			spec := domain.ReminderSpec{
				ListID:       "preview",
				Title:        "preview",
				BaseDateTime: base,
				Rule:         domain.RecurrenceRule{Kind: domain.RuleKind(rule), Weekdays: days},
				Type:         domain.NotificationType(kind),
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			exp, err := recurrence.Expand(spec, current)
			if err != nil {
				return err
			}
			for _, o := range exp.Intents() {
				fmt.Printf("%-20s %s\n", o.Kind, o.FiresAt.Format("Mon 2006-01-02 15:04 MST"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rule, "rule", "daily", "recurrence rule: none, daily, weekly, monthly")
	cmd.Flags().StringVar(&weekdays, "weekdays", "", "weekly days, e.g. mo,we")
	cmd.Flags().StringVar(&at, "at", "", "base date and time (RFC3339 or \"2006-01-02 15:04\")")
	cmd.Flags().StringVar(&kind, "type", string(domain.NotifyRecurring), "notification type: none, one-time, recurring")
	cmd.Flags().StringVar(&now, "now", "", "evaluate as of this time instead of the clock")
	cmd.MarkFlagRequired("at")

	return cmd
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, loc)
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write all persisted reminders as an iCalendar file to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, idx, _, err := openIndex()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := loadAll(cmd.Context(), idx)
			if err != nil {
				return err
			}
			specs := make([]domain.ReminderSpec, 0, len(all))
			for _, p := range all {
				specs = append(specs, p.Spec)
			}
			return caldav.Encode(os.Stdout, caldav.BuildCalendar(specs))
		},
	}
}
