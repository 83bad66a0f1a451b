package agent

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pentland/scribe/internal/llm"
	"github.com/pentland/scribe/internal/memory"
	"github.com/pentland/scribe/internal/tools"

	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("sqlite", filepath.Join(dir, "scribe.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	working, err := memory.NewWorkingStore(db)
	if err != nil {
		t.Fatalf("working store: %v", err)
	}
	durable, err := memory.NewDurableStore(filepath.Join(dir, "memory"))
	if err != nil {
		t.Fatalf("durable store: %v", err)
	}
	profile, err := memory.NewProfileStore(filepath.Join(dir, "profile"))
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	return memory.NewStore(testLogger(), memory.NewSessionStore(50), working, durable, profile, 10, 2000)
}

// chatCall records one Chat invocation for assertions.
type chatCall struct {
	messages []llm.Message
	tools    []map[string]any
}

// fakeLLM scripts Chat responses through a respond function.
type fakeLLM struct {
	mu      sync.Mutex
	calls   []chatCall
	respond func(n int, messages []llm.Message, toolDefs []map[string]any) *llm.ChatResponse
}

func (f *fakeLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{messages: messages, tools: toolDefs})
	n := len(f.calls)
	f.mu.Unlock()
	resp := f.respond(n, messages, toolDefs)
	resp.Model = model
	resp.Done = true
	return resp, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) call(i int) chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}}
}

func toolCallResponse(id, name string, args map[string]any) *llm.ChatResponse {
	var tc llm.ToolCall
	tc.ID = id
	tc.Function.Name = name
	tc.Function.Arguments = args
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{tc}}}
}

func newTestLoop(t *testing.T, client llm.Client, maxRounds int, register func(*tools.Registry)) (*Loop, *memory.Store) {
	t.Helper()
	mem := testMemoryStore(t)
	reg := tools.NewRegistry(testLogger(), time.Second)
	if register != nil {
		register(reg)
	}
	asm := NewAssembler(testLogger(), mem, nil, nil, 2000, 5, time.Second)
	loop := NewLoop(testLogger(), client, reg, asm, mem, nil, "test-model", maxRounds)
	return loop, mem
}

func TestRunAnswersWithoutTools(t *testing.T) {
	client := &fakeLLM{respond: func(n int, _ []llm.Message, _ []map[string]any) *llm.ChatResponse {
		return textResponse("Hello there.")
	}}
	loop, mem := newTestLoop(t, client, 8, nil)

	resp, err := loop.Run(context.Background(), Request{Text: "hi", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != StateDone || resp.Rounds != 1 {
		t.Errorf("state = %s rounds = %d", resp.State, resp.Rounds)
	}
	if resp.Content != "Hello there." {
		t.Errorf("content = %q", resp.Content)
	}

	turns := mem.Session().Recent("c1", 10)
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("session turns = %+v", turns)
	}
}

func TestRunExecutesToolThenAnswers(t *testing.T) {
	client := &fakeLLM{respond: func(n int, _ []llm.Message, _ []map[string]any) *llm.ChatResponse {
		if n == 1 {
			return toolCallResponse("call-1", "lookup", map[string]any{"key": "weather"})
		}
		return textResponse("It will rain.")
	}}

	executed := false
	loop, _ := newTestLoop(t, client, 8, func(reg *tools.Registry) {
		err := reg.Register(&tools.Tool{
			Name: "lookup",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": map[string]any{"type": "string"}},
				"required":   []string{"key"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				executed = true
				return "rain expected", nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	resp, err := loop.Run(context.Background(), Request{Text: "what's the weather?", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !executed {
		t.Fatal("tool never executed")
	}
	if resp.State != StateDone || resp.Rounds != 2 {
		t.Errorf("state = %s rounds = %d", resp.State, resp.Rounds)
	}

	// The second call must carry the tool result correlated by ID.
	second := client.call(1)
	var toolMsg *llm.Message
	for i := range second.messages {
		if second.messages[i].Role == "tool" {
			toolMsg = &second.messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in follow-up call")
	}
	if toolMsg.ToolCallID != "call-1" || toolMsg.Content != "rain expected" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestRunInvalidArgumentsNeverReachHandler(t *testing.T) {
	client := &fakeLLM{respond: func(n int, _ []llm.Message, _ []map[string]any) *llm.ChatResponse {
		if n == 1 {
			// Missing the required "key" argument.
			return toolCallResponse("call-1", "lookup", map[string]any{})
		}
		return textResponse("I could not look that up.")
	}}

	executed := false
	loop, _ := newTestLoop(t, client, 8, func(reg *tools.Registry) {
		err := reg.Register(&tools.Tool{
			Name: "lookup",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": map[string]any{"type": "string"}},
				"required":   []string{"key"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				executed = true
				return "never", nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	resp, err := loop.Run(context.Background(), Request{Text: "look it up", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if executed {
		t.Fatal("handler ran despite invalid arguments")
	}
	if resp.State != StateDone {
		t.Errorf("state = %s", resp.State)
	}

	// The failure text must flow back to the model.
	second := client.call(1)
	found := false
	for _, m := range second.messages {
		if m.Role == "tool" && strings.Contains(m.Content, "invalid tool arguments") {
			found = true
		}
	}
	if !found {
		t.Error("validation failure not surfaced to model")
	}
}

func TestRunForcesTextAnswerAtRoundLimit(t *testing.T) {
	const maxRounds = 3
	client := &fakeLLM{respond: func(n int, _ []llm.Message, toolDefs []map[string]any) *llm.ChatResponse {
		if toolDefs == nil {
			return textResponse("Best effort answer.")
		}
		return toolCallResponse(fmt.Sprintf("call-%d", n), "lookup", map[string]any{"key": "more"})
	}}

	loop, _ := newTestLoop(t, client, maxRounds, func(reg *tools.Registry) {
		err := reg.Register(&tools.Tool{
			Name: "lookup",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": map[string]any{"type": "string"}},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return "still nothing", nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	resp, err := loop.Run(context.Background(), Request{Text: "dig forever", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != StateAborted {
		t.Errorf("state = %s, want aborted", resp.State)
	}
	if resp.Rounds != maxRounds {
		t.Errorf("rounds = %d, want %d", resp.Rounds, maxRounds)
	}
	if resp.Content != "Best effort answer." {
		t.Errorf("content = %q", resp.Content)
	}

	// maxRounds tool-enabled calls plus one forced final without tools.
	if got := client.callCount(); got != maxRounds+1 {
		t.Errorf("llm calls = %d, want %d", got, maxRounds+1)
	}
	final := client.call(maxRounds)
	if final.tools != nil {
		t.Error("forced final call must not offer tools")
	}
}

func TestRunParallelToolCallsAllAnswered(t *testing.T) {
	client := &fakeLLM{respond: func(n int, _ []llm.Message, _ []map[string]any) *llm.ChatResponse {
		if n == 1 {
			var a, b llm.ToolCall
			a.ID = "call-a"
			a.Function.Name = "lookup"
			a.Function.Arguments = map[string]any{"key": "one"}
			b.ID = "call-b"
			b.Function.Name = "lookup"
			b.Function.Arguments = map[string]any{"key": "two"}
			return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{a, b}}}
		}
		return textResponse("both done")
	}}

	loop, _ := newTestLoop(t, client, 8, func(reg *tools.Registry) {
		err := reg.Register(&tools.Tool{
			Name: "lookup",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": map[string]any{"type": "string"}},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				key, _ := args["key"].(string)
				return "value for " + key, nil
			},
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	resp, err := loop.Run(context.Background(), Request{Text: "fetch both", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != StateDone {
		t.Errorf("state = %s", resp.State)
	}

	second := client.call(1)
	seen := map[string]bool{}
	for _, m := range second.messages {
		if m.Role == "tool" {
			seen[m.ToolCallID] = true
		}
	}
	if !seen["call-a"] || !seen["call-b"] {
		t.Errorf("missing tool results, seen = %v", seen)
	}
}

// stalledLLM never answers; Chat blocks until the context ends.
type stalledLLM struct{}

func (stalledLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledLLM) Ping(ctx context.Context) error { return nil }

// erringLLM fails every Chat call with a non-context error.
type erringLLM struct{}

func (erringLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("connection refused")
}

func (erringLLM) Ping(ctx context.Context) error { return nil }

func TestRunDeadlineExpiryAborts(t *testing.T) {
	loop, mem := newTestLoop(t, stalledLLM{}, 8, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := loop.Run(ctx, Request{Text: "slow question", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != StateAborted {
		t.Errorf("state = %s, want aborted", resp.State)
	}
	if resp.Content != "" {
		t.Errorf("content = %q, want empty best-effort", resp.Content)
	}

	// The user turn landed before the model stalled.
	turns := mem.Session().Recent("c1", 10)
	if len(turns) != 1 || turns[0].Role != "user" {
		t.Errorf("session turns = %+v", turns)
	}
}

func TestRunCancellationAborts(t *testing.T) {
	loop, _ := newTestLoop(t, stalledLLM{}, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp, err := loop.Run(ctx, Request{Text: "never mind", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.State != StateAborted {
		t.Errorf("state = %s, want aborted", resp.State)
	}
}

func TestRunProviderErrorStillSurfaced(t *testing.T) {
	loop, _ := newTestLoop(t, erringLLM{}, 8, nil)

	resp, err := loop.Run(context.Background(), Request{Text: "hi", ConversationID: "c1"})
	if err == nil {
		t.Fatalf("want error, got response %+v", resp)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v", err)
	}
}

func TestRunSystemMessageCarriesContext(t *testing.T) {
	client := &fakeLLM{respond: func(n int, _ []llm.Message, _ []map[string]any) *llm.ChatResponse {
		return textResponse("ok")
	}}
	loop, mem := newTestLoop(t, client, 8, nil)

	if err := mem.Working().Set("c1", "current_topic", "vacation planning"); err != nil {
		t.Fatalf("set note: %v", err)
	}

	if _, err := loop.Run(context.Background(), Request{Text: "where were we?", ConversationID: "c1"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	first := client.call(0)
	if len(first.messages) == 0 || first.messages[0].Role != "system" {
		t.Fatalf("messages = %+v", first.messages)
	}
	if !strings.Contains(first.messages[0].Content, "vacation planning") {
		t.Error("working note missing from system message")
	}
	if last := first.messages[len(first.messages)-1]; last.Role != "user" || last.Content != "where were we?" {
		t.Errorf("last message = %+v", last)
	}
}
