package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/featherlabs/featherbot/internal/tools"
)

// Tool exposes job management to the agent. It lives here rather than in
// the tools package so the registry never depends on the service. Jobs
// created without an explicit target fire back into the conversation
// carried on the context.
type Tool struct {
	service *Service
}

func NewTool(s *Service) *Tool {
	return &Tool{service: s}
}

func (t *Tool) Name() string { return "cron" }
func (t *Tool) Description() string {
	return "Schedule reminders and recurring tasks. Actions: add, list, remove, enable, disable. " +
		"Schedules: cron_expr (recurring), every_seconds (interval), or at (one-shot ISO-8601)."
}
func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"add", "list", "remove", "enable", "disable"},
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Job name (for add)",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Prompt the agent runs when the job fires (for add)",
			},
			"cron_expr": map[string]any{
				"type":        "string",
				"description": "Cron expression, e.g. \"0 9 * * *\"",
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone for cron_expr, e.g. \"Asia/Singapore\"",
			},
			"every_seconds": map[string]any{
				"type":        "integer",
				"description": "Interval in seconds",
			},
			"at": map[string]any{
				"type":        "string",
				"description": "One-shot fire time, ISO-8601",
			},
			"delete_after_run": map[string]any{
				"type":        "boolean",
				"description": "Remove the job after it fires once",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Job ID (for remove, enable, disable)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list()
	case "remove":
		id, _ := args["id"].(string)
		if id == "" {
			return "", fmt.Errorf("id is required for remove")
		}
		if !t.service.RemoveJob(id) {
			return fmt.Sprintf("No job with ID %s", id), nil
		}
		return fmt.Sprintf("Job %s removed", id), nil
	case "enable", "disable":
		id, _ := args["id"].(string)
		if id == "" {
			return "", fmt.Errorf("id is required for %s", action)
		}
		if err := t.service.EnableJob(id, action == "enable"); err != nil {
			return "", err
		}
		return fmt.Sprintf("Job %s %sd", id, action), nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func (t *Tool) add(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	if message == "" {
		return "", fmt.Errorf("message is required for add")
	}
	if name == "" {
		name = message
		if len(name) > 40 {
			name = name[:40]
		}
	}

	sched, err := scheduleFromArgs(args)
	if err != nil {
		return "", err
	}

	deleteAfterRun, _ := args["delete_after_run"].(bool)
	// One-shot jobs default to removal after firing.
	if sched.Kind == KindAt {
		if _, present := args["delete_after_run"]; !present {
			deleteAfterRun = true
		}
	}

	conv, _ := tools.ConversationFromContext(ctx)
	job, err := t.service.AddJob(AddJobParams{
		Name:     name,
		Schedule: sched,
		Payload: Payload{
			Action:  "agent_turn",
			Message: message,
			Channel: conv.Channel,
			ChatID:  conv.ChatID,
		},
		DeleteAfterRun: deleteAfterRun,
	})
	if err != nil {
		return "", err
	}

	next := "not scheduled"
	if job.State.NextRunAt != nil {
		next = time.UnixMilli(*job.State.NextRunAt).Format(time.RFC3339)
	}
	return fmt.Sprintf("Job %q created (ID %s), next run %s", job.Name, job.ID, next), nil
}

func (t *Tool) list() (string, error) {
	jobs := t.service.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	var b strings.Builder
	for _, job := range jobs {
		next := "-"
		if job.State.NextRunAt != nil {
			next = time.UnixMilli(*job.State.NextRunAt).Format(time.RFC3339)
		}
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s %q [%s] %s next=%s\n", job.ID, job.Name, state, describeSchedule(job.Schedule), next)
	}
	return b.String(), nil
}

func scheduleFromArgs(args map[string]any) (Schedule, error) {
	cronExpr, _ := args["cron_expr"].(string)
	at, _ := args["at"].(string)
	everySeconds := int64(0)
	if v, ok := args["every_seconds"].(float64); ok {
		everySeconds = int64(v)
	}

	set := 0
	var sched Schedule
	if cronExpr != "" {
		tz, _ := args["timezone"].(string)
		sched = Schedule{Kind: KindCron, CronExpr: cronExpr, Timezone: tz}
		set++
	}
	if everySeconds != 0 {
		sched = Schedule{Kind: KindEvery, EverySeconds: everySeconds}
		set++
	}
	if at != "" {
		sched = Schedule{Kind: KindAt, At: at}
		set++
	}
	if set != 1 {
		return Schedule{}, fmt.Errorf("exactly one of cron_expr, every_seconds, at is required")
	}
	return sched, nil
}

func describeSchedule(s Schedule) string {
	switch s.Kind {
	case KindCron:
		if s.Timezone != "" {
			return fmt.Sprintf("cron(%s %s)", s.CronExpr, s.Timezone)
		}
		return fmt.Sprintf("cron(%s)", s.CronExpr)
	case KindEvery:
		return fmt.Sprintf("every %ds", s.EverySeconds)
	case KindAt:
		return "at " + s.At
	}
	return s.Kind
}
