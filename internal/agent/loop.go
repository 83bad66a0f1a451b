package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pentland/scribe/internal/events"
	"github.com/pentland/scribe/internal/llm"
	"github.com/pentland/scribe/internal/memory"
	"github.com/pentland/scribe/internal/prompts"
	"github.com/pentland/scribe/internal/tools"
)

// State labels where a request is in its lifecycle.
type State string

const (
	StateAssembling  State = "assembling"
	StateReasoning   State = "reasoning"
	StateToolPending State = "tool_pending"
	StateExecuting   State = "executing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Request is one inbound user message.
type Request struct {
	Text           string
	ConversationID string
	ParticipantID  string
	Kind           memory.ConversationKind
}

// Response is the final outcome of a request.
type Response struct {
	Content string
	State   State
	Rounds  int
	Model   string
}

// Loop drives the reason/act cycle for one request at a time. Tool
// rounds are bounded; when the model keeps asking for tools past the
// limit it is forced to answer in text with what it has.
type Loop struct {
	logger    *slog.Logger
	llm       llm.Client
	registry  *tools.Registry
	assembler *Assembler
	memory    *memory.Store
	bus       *events.Bus

	model     string
	maxRounds int
}

// NewLoop creates the agent loop. maxRounds bounds reasoning/tool
// cycles per request; zero uses 8.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, assembler *Assembler, mem *memory.Store, bus *events.Bus, model string, maxRounds int) *Loop {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	return &Loop{
		logger:    logger,
		llm:       client,
		registry:  registry,
		assembler: assembler,
		memory:    mem,
		bus:       bus,
		model:     model,
		maxRounds: maxRounds,
	}
}

// Run processes one request to completion. The returned Response state
// is StateDone when the model finished on its own and StateAborted when
// the round limit forced a text answer or the request deadline expired
// first. Deadline expiry is a termination path, not an error.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	if req.ConversationID == "" {
		req.ConversationID = "default"
	}
	if req.Kind == "" {
		req.Kind = memory.KindDirect
	}

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data: map[string]any{
			"conversation": req.ConversationID,
			"kind":         string(req.Kind),
		},
	})

	start := time.Now()

	// Assemble before the user turn lands in the session, so recall
	// reflects the conversation as it stood when the message arrived.
	asm := l.assembler.Assemble(ctx, req.ConversationID, req.Text, req.Kind)

	l.memory.Session().Append(req.ConversationID, "user", req.Text)

	messages := l.buildMessages(asm, req)

	// Tool handlers see the conversation they run in.
	toolCtx := tools.WithConversationID(ctx, req.ConversationID)
	toolCtx = tools.WithConversationKind(toolCtx, string(req.Kind))

	toolDefs := l.registry.List()

	var resp *llm.ChatResponse
	var err error
	for round := 1; round <= l.maxRounds; round++ {
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindLLMCall,
			Data:   map[string]any{"round": round, "model": l.model},
		})

		resp, err = l.llm.Chat(ctx, l.model, messages, toolDefs)
		if err != nil {
			if ctx.Err() != nil {
				return l.abort(req, round, start), nil
			}
			return nil, fmt.Errorf("llm chat (round %d): %w", round, err)
		}

		if !resp.HasToolCalls() {
			l.finish(req, resp.Message.Content, StateDone, round, start)
			return &Response{Content: resp.Message.Content, State: StateDone, Rounds: round, Model: resp.Model}, nil
		}

		messages = append(messages, resp.Message)

		results := l.executeCalls(toolCtx, resp.Message.ToolCalls)
		for _, tr := range results {
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    tr.result.Text(),
				ToolCallID: tr.call.ID,
			})
			l.memory.Session().Append(req.ConversationID, "tool", tr.call.Function.Name+": "+tr.result.Text())
		}
	}

	// Round limit hit: one final call with no tools forces a text
	// answer from whatever the model has gathered.
	l.logger.Warn("round limit reached, forcing text response",
		"conversation", req.ConversationID, "rounds", l.maxRounds)

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: "Answer now with the information you have. Do not request more tools.",
	})
	resp, err = l.llm.Chat(ctx, l.model, messages, nil)
	if err != nil {
		if ctx.Err() != nil {
			return l.abort(req, l.maxRounds, start), nil
		}
		return nil, fmt.Errorf("llm chat (forced final): %w", err)
	}

	l.finish(req, resp.Message.Content, StateAborted, l.maxRounds, start)
	return &Response{Content: resp.Message.Content, State: StateAborted, Rounds: l.maxRounds, Model: resp.Model}, nil
}

// buildMessages lays out the model input: system message with the
// assembled context, recalled turns as history, then the new user
// message.
func (l *Loop) buildMessages(asm *Assembled, req Request) []llm.Message {
	system := prompts.System(asm.Memory.Persona, time.Now())
	if block := asm.Render(); block != "" {
		system += "\n\n" + block
	}

	messages := []llm.Message{{Role: "system", Content: system}}
	for _, t := range asm.Memory.Turns {
		role := t.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Text})
	return messages
}

type toolResult struct {
	call   llm.ToolCall
	result *tools.Result
}

// executeCalls dispatches one round's tool calls concurrently and
// returns results in completion order. Every call yields a result;
// validation failures and handler errors come back as failed results
// for the model to react to.
func (l *Loop) executeCalls(ctx context.Context, calls []llm.ToolCall) []toolResult {
	ch := make(chan toolResult, len(calls))
	for _, call := range calls {
		go func(call llm.ToolCall) {
			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolCall,
				Data:   map[string]any{"tool": call.Function.Name},
			})

			res := l.registry.Execute(ctx, call.Function.Name, call.Function.Arguments)

			l.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolDone,
				Data:   map[string]any{"tool": call.Function.Name, "ok": res.OK},
			})
			ch <- toolResult{call: call, result: res}
		}(call)
	}

	results := make([]toolResult, 0, len(calls))
	for range calls {
		results = append(results, <-ch)
	}
	return results
}

// abort ends a request whose deadline expired or whose context was
// cancelled. Tool side effects that already ran are kept; the response
// is best-effort with empty content since the model never answered.
func (l *Loop) abort(req Request, rounds int, start time.Time) *Response {
	l.logger.Warn("request deadline expired, aborting",
		"conversation", req.ConversationID, "rounds", rounds)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"conversation": req.ConversationID,
			"state":        string(StateAborted),
			"rounds":       rounds,
			"elapsed_ms":   time.Since(start).Milliseconds(),
		},
	})
	return &Response{State: StateAborted, Rounds: rounds, Model: l.model}
}

// finish appends the assistant turn and publishes request completion.
func (l *Loop) finish(req Request, content string, state State, rounds int, start time.Time) {
	l.memory.Session().Append(req.ConversationID, "assistant", content)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"conversation": req.ConversationID,
			"state":        string(state),
			"rounds":       rounds,
			"elapsed_ms":   time.Since(start).Milliseconds(),
		},
	})
	l.logger.Info("request complete",
		"conversation", req.ConversationID,
		"state", string(state),
		"rounds", rounds,
		"elapsed", time.Since(start).Round(time.Millisecond))
}
