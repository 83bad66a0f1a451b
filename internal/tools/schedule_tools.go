package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pentland/scribe/internal/scheduler"
)

// RegisterScheduleTools adds reminder and recurring-task builtins
// backed by the scheduler store.
func RegisterScheduleTools(r *Registry, store *scheduler.Store) error {
	tools := []*Tool{
		{
			Name:        "set_reminder",
			Description: "Set a one-shot reminder. Fires once at the given time, then disables itself.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"when": map[string]any{
						"type":        "string",
						"description": "When to fire: a duration like '30m' or '2h', a phrase like 'in 20 minutes', or an RFC3339 timestamp",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "What to say when the reminder fires",
					},
				},
				"required": []string{"when", "message"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				when, _ := args["when"].(string)
				message, _ := args["message"].(string)

				sched, err := parseWhen(when, "")
				if err != nil {
					return "", fmt.Errorf("parse when: %w", err)
				}
				if sched.Kind != scheduler.ScheduleAt {
					return "", fmt.Errorf("reminder needs a point in time, got an interval")
				}

				task := &scheduler.Task{
					Name:     message,
					Kind:     scheduler.KindReminder,
					Schedule: sched,
					Payload: scheduler.Payload{
						Kind:   scheduler.PayloadNotify,
						Target: ConversationIDFromContext(ctx),
						Data:   map[string]any{"text": message},
					},
					Enabled:   true,
					CreatedBy: ConversationIDFromContext(ctx),
				}
				if err := store.CreateTask(task); err != nil {
					return "", fmt.Errorf("create reminder: %w", err)
				}
				return fmt.Sprintf("Reminder set for %s (id %s).", sched.At.Local().Format("Mon Jan 2 15:04"), task.ID), nil
			},
		},
		{
			Name:        "schedule_recurring",
			Description: "Schedule a recurring task that fires on a fixed interval until cancelled.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"every": map[string]any{
						"type":        "string",
						"description": "Interval: a duration like '4h' or '1d', or 'hourly', 'daily', 'weekly'",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "What to do each time it fires",
					},
				},
				"required": []string{"every", "message"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				every, _ := args["every"].(string)
				message, _ := args["message"].(string)

				interval, err := parseDuration(every)
				if err != nil {
					return "", fmt.Errorf("parse interval: %w", err)
				}
				if interval < time.Minute {
					return "", fmt.Errorf("interval too short: minimum is 1m")
				}

				task := &scheduler.Task{
					Name: message,
					Kind: scheduler.KindRecurring,
					Schedule: scheduler.Schedule{
						Kind:  scheduler.ScheduleEvery,
						Every: &scheduler.Duration{Duration: interval},
					},
					Payload: scheduler.Payload{
						Kind:   scheduler.PayloadWake,
						Target: ConversationIDFromContext(ctx),
						Data:   map[string]any{"text": message},
					},
					Enabled:   true,
					CreatedBy: ConversationIDFromContext(ctx),
				}
				if err := store.CreateTask(task); err != nil {
					return "", fmt.Errorf("create recurring task: %w", err)
				}
				return fmt.Sprintf("Recurring task scheduled every %s (id %s).", interval, task.ID), nil
			},
		},
		{
			Name:        "list_scheduled_tasks",
			Description: "List the active reminders and recurring tasks.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				tasks, err := store.ListTasks(true)
				if err != nil {
					return "", fmt.Errorf("list tasks: %w", err)
				}
				if len(tasks) == 0 {
					return "Nothing scheduled.", nil
				}
				var b strings.Builder
				for _, t := range tasks {
					fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", t.ID, t.Name, t.Kind, describeSchedule(t.Schedule))
				}
				return b.String(), nil
			},
		},
		{
			Name:        "cancel_task",
			Description: "Cancel a scheduled reminder or recurring task by its id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "Task id, as shown by list_scheduled_tasks",
					},
				},
				"required": []string{"id"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				id, _ := args["id"].(string)
				if err := store.DeleteTask(id); err != nil {
					return "", fmt.Errorf("cancel task: %w", err)
				}
				return "Cancelled.", nil
			},
		},
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// parseWhen turns a user-facing time expression into a schedule.
// Accepts Go durations ("30m"), "in <n> <unit>" phrases, and RFC3339
// timestamps. A non-empty repeat makes the schedule recurring.
func parseWhen(when, repeat string) (scheduler.Schedule, error) {
	now := time.Now()

	if dur, err := time.ParseDuration(when); err == nil {
		if repeat != "" {
			repeatDur, err := parseDuration(repeat)
			if err != nil {
				return scheduler.Schedule{}, fmt.Errorf("invalid repeat: %w", err)
			}
			return scheduler.Schedule{
				Kind:  scheduler.ScheduleEvery,
				Every: &scheduler.Duration{Duration: repeatDur},
			}, nil
		}
		at := now.Add(dur)
		return scheduler.Schedule{Kind: scheduler.ScheduleAt, At: &at}, nil
	}

	if strings.HasPrefix(strings.ToLower(when), "in ") {
		durStr := strings.TrimPrefix(strings.ToLower(when), "in ")
		if dur, err := parseHumanDuration(durStr); err == nil {
			at := now.Add(dur)
			return scheduler.Schedule{Kind: scheduler.ScheduleAt, At: &at}, nil
		}
	}

	if t, err := time.Parse(time.RFC3339, when); err == nil {
		if t.Before(now) {
			return scheduler.Schedule{}, fmt.Errorf("time %s is in the past", when)
		}
		return scheduler.Schedule{Kind: scheduler.ScheduleAt, At: &t}, nil
	}

	return scheduler.Schedule{}, fmt.Errorf("could not parse %q (try '30m', 'in 20 minutes', or RFC3339)", when)
}

// parseDuration extends time.ParseDuration with day suffixes and the
// words "hourly", "daily", "weekly".
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

// parseHumanDuration parses "<number> <unit>" phrases like "20 minutes".
func parseHumanDuration(s string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) < 2 {
		return 0, fmt.Errorf("expected '<number> <unit>'")
	}

	var num int
	if _, err := fmt.Sscanf(parts[0], "%d", &num); err != nil {
		return 0, err
	}

	unit := strings.ToLower(parts[1])
	switch {
	case strings.HasPrefix(unit, "second"):
		return time.Duration(num) * time.Second, nil
	case strings.HasPrefix(unit, "minute"):
		return time.Duration(num) * time.Minute, nil
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(num) * time.Hour, nil
	case strings.HasPrefix(unit, "day"):
		return time.Duration(num) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

func describeSchedule(s scheduler.Schedule) string {
	switch s.Kind {
	case scheduler.ScheduleAt:
		if s.At != nil {
			return "at " + s.At.Local().Format("Mon Jan 2 15:04")
		}
	case scheduler.ScheduleEvery:
		if s.Every != nil {
			return "every " + s.Every.String()
		}
	}
	return "unscheduled"
}
