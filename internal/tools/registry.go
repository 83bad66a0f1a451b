// Package tools defines the declarative tool catalog available to the
// agent: named capabilities with a JSON-Schema parameter contract and
// an executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                          `json:"name"`
	Description string                                                          `json:"description"`
	Parameters  map[string]any                                                  `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Result is the outcome of one tool execution, fed back to the
// reasoning step.
type Result struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Text returns the result rendered for the model: the content on
// success, the error otherwise.
func (r *Result) Text() string {
	if r.OK {
		return r.Content
	}
	return "Error: " + r.Err
}

// Registry holds available tools. Registration validates schema
// well-formedness and name uniqueness up front, so a malformed tool
// never reaches the reasoning loop.
type Registry struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry. timeout bounds a single
// tool execution; zero uses one minute.
func NewRegistry(logger *slog.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Registry{
		logger:  logger,
		timeout: timeout,
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. It rejects duplicate names and compiles the
// parameter schema; a schema that does not compile is a registration
// error, not a runtime surprise.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool %s: name already registered", t.Name)
	}

	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	schemaJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("register tool %s: marshal schema: %w", t.Name, err)
	}
	schema, err := jsonschema.CompileString(t.Name+".json", string(schemaJSON))
	if err != nil {
		return fmt.Errorf("register tool %s: compile schema: %w", t.Name, err)
	}

	r.tools[t.Name] = t
	r.schemas[t.Name] = schema
	r.logger.Debug("tool registered", "name", t.Name)
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the wire format the LLM expects.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Validate checks arguments against a tool's parameter schema. The
// args map round-trips through JSON so numeric types normalize the
// same way they would arriving off the wire.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Execute runs a tool by name. Arguments are validated first; invalid
// arguments produce a failed Result without invoking the executor.
// Execution carries a per-call timeout. Execute never panics the
// caller: every outcome is a Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	tool := r.Get(name)
	if tool == nil {
		return &Result{Name: name, OK: false, Err: fmt.Sprintf("%v: %s", ErrToolUnavailable, name)}
	}

	if err := r.Validate(name, args); err != nil {
		r.logger.Warn("tool arguments rejected", "tool", name, "error", err)
		return &Result{Name: name, OK: false, Err: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	content, err := tool.Handler(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "elapsed", elapsed.Round(time.Millisecond), "error", err)
		return &Result{Name: name, OK: false, Err: err.Error()}
	}

	r.logger.Debug("tool executed", "tool", name, "elapsed", elapsed.Round(time.Millisecond), "result_len", len(content))
	return &Result{Name: name, OK: true, Content: content}
}
