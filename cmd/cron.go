package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/featherlabs/featherbot/internal/cron"
)

// cronCmd manages the job store directly on disk. Run these while the
// gateway is down; a running gateway reloads the store only on startup.
func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd(true))
	cmd.AddCommand(cronEnableCmd(false))
	return cmd
}

func cronStore() *cron.FileStore {
	cfg := loadConfig()
	return cron.NewFileStore(cfg.Cron.StorePath, nil)
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			jobs := cronStore().Load()
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tSCHEDULE\tNEXT RUN\tLAST STATUS")
			for _, job := range jobs {
				next := "-"
				if job.State.NextRunAt != nil {
					next = time.UnixMilli(*job.State.NextRunAt).Format(time.RFC3339)
				}
				last := job.State.LastStatus
				if last == "" {
					last = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
					job.ID, job.Name, job.Enabled, describeScheduleCLI(job.Schedule), next, last)
			}
			w.Flush()
		},
	}
}

func cronAddCmd() *cobra.Command {
	var (
		name           string
		message        string
		cronExpr       string
		timezone       string
		everySeconds   int64
		at             string
		channel        string
		chatID         string
		deleteAfterRun bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			if name == "" {
				name = message
				if len(name) > 40 {
					name = name[:40]
				}
			}

			set := 0
			var sched cron.Schedule
			if cronExpr != "" {
				sched = cron.Schedule{Kind: cron.KindCron, CronExpr: cronExpr, Timezone: timezone}
				set++
			}
			if everySeconds > 0 {
				sched = cron.Schedule{Kind: cron.KindEvery, EverySeconds: everySeconds}
				set++
			}
			if at != "" {
				sched = cron.Schedule{Kind: cron.KindAt, At: at}
				set++
				if !cmd.Flags().Changed("delete-after-run") {
					deleteAfterRun = true
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --cron, --every, --at is required")
			}

			store := cronStore()
			now := time.Now()
			job := &cron.Job{
				ID:       uuid.NewString(),
				Name:     name,
				Enabled:  true,
				Schedule: sched,
				Payload: cron.Payload{
					Action:  "agent_turn",
					Message: message,
					Channel: channel,
					ChatID:  chatID,
				},
				State:          cron.JobState{NextRunAt: cron.ComputeNextRun(sched, now)},
				CreatedAt:      now.UTC().Format(time.RFC3339),
				UpdatedAt:      now.UTC().Format(time.RFC3339),
				DeleteAfterRun: deleteAfterRun,
			}
			jobs := append(store.Load(), job)
			if err := store.Save(jobs); err != nil {
				return err
			}
			fmt.Printf("Job %q created (ID %s)\n", job.Name, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name (defaults to the message)")
	cmd.Flags().StringVar(&message, "message", "", "prompt the agent runs when the job fires")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression, e.g. \"0 9 * * *\"")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for --cron")
	cmd.Flags().Int64Var(&everySeconds, "every", 0, "interval in seconds")
	cmd.Flags().StringVar(&at, "at", "", "one-shot fire time, ISO-8601")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel for the reply")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "delivery chat ID for the reply")
	cmd.Flags().BoolVar(&deleteAfterRun, "delete-after-run", false, "remove the job after it fires once")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := cronStore()
			jobs := store.Load()
			kept := jobs[:0]
			removed := false
			for _, job := range jobs {
				if job.ID == args[0] {
					removed = true
					continue
				}
				kept = append(kept, job)
			}
			if !removed {
				return fmt.Errorf("no job with ID %s", args[0])
			}
			if err := store.Save(kept); err != nil {
				return err
			}
			fmt.Printf("Job %s removed\n", args[0])
			return nil
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short, verb := "enable <id>", "Enable a job", "enabled"
	if !enable {
		use, short, verb = "disable <id>", "Disable a job", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := cronStore()
			jobs := store.Load()
			for _, job := range jobs {
				if job.ID != args[0] {
					continue
				}
				job.Enabled = enable
				job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
				if enable {
					job.State.NextRunAt = cron.ComputeNextRun(job.Schedule, time.Now())
				} else {
					job.State.NextRunAt = nil
				}
				if err := store.Save(jobs); err != nil {
					return err
				}
				fmt.Printf("Job %s %s\n", job.ID, verb)
				return nil
			}
			return fmt.Errorf("no job with ID %s", args[0])
		},
	}
}

func describeScheduleCLI(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindCron:
		if s.Timezone != "" {
			return fmt.Sprintf("cron(%s %s)", s.CronExpr, s.Timezone)
		}
		return fmt.Sprintf("cron(%s)", s.CronExpr)
	case cron.KindEvery:
		return fmt.Sprintf("every %ds", s.EverySeconds)
	case cron.KindAt:
		return "at " + s.At
	}
	return s.Kind
}
