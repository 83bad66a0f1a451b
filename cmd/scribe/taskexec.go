package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pentland/scribe/internal/agent"
	"github.com/pentland/scribe/internal/events"
	"github.com/pentland/scribe/internal/memory"
	"github.com/pentland/scribe/internal/scheduler"
)

// newTaskExecutor builds the callback the scheduler invokes for due
// tasks. Wake payloads re-enter the agent loop as a self-originated
// request; notify payloads land in the conversation transcript directly
// and fan out over the event bus, where connected clients pick them up.
func newTaskExecutor(logger *slog.Logger, loop *agent.Loop, mem *memory.Store, bus *events.Bus, timeout time.Duration) scheduler.ExecuteFunc {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return func(ctx context.Context, task *scheduler.Task, firing *scheduler.Firing) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		target := task.Payload.Target
		if target == "" {
			target = "default"
		}
		text, _ := task.Payload.Data["text"].(string)
		if text == "" {
			text = task.Name
		}

		switch task.Payload.Kind {
		case scheduler.PayloadWake:
			resp, err := loop.Run(ctx, agent.Request{
				Text:           fmt.Sprintf("[scheduled task fired: %s] %s", task.Name, text),
				ConversationID: target,
				Kind:           memory.KindDirect,
			})
			if err != nil {
				return fmt.Errorf("wake run: %w", err)
			}
			firing.Result = resp.Content
			return nil

		case scheduler.PayloadNotify:
			message := "Reminder: " + text
			mem.Session().Append(target, "assistant", message)
			bus.Publish(events.Event{
				Source: events.SourceScheduler,
				Kind:   events.KindNotify,
				Data: map[string]any{
					"task_id":      task.ID,
					"conversation": target,
					"message":      message,
				},
			})
			firing.Result = message
			logger.Info("reminder delivered", "task", task.ID, "conversation", target)
			return nil

		default:
			return fmt.Errorf("unknown payload kind %q", task.Payload.Kind)
		}
	}
}
