// tools.go manages the registry of callable tools and dispatches tool
// calls from the LLM to their handlers. Real tool servers live outside this
// core; the registry is the seam the turn controller drives.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultToolTimeout is the maximum time a single tool execution can take.
const DefaultToolTimeout = 30 * time.Second

// ToolHandlerFunc is the signature for tool execution handlers. Receives
// parsed arguments and returns the result or an error.
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// registeredTool bundles a tool definition with its handler.
type registeredTool struct {
	Definition ToolDefinition
	Handler    ToolHandlerFunc
}

// ToolResult holds the output of a single tool execution.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Error      error
}

// ToolExecutor manages tool registration and dispatches tool calls.
type ToolExecutor struct {
	tools   map[string]*registeredTool
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewToolExecutor creates a new empty tool executor.
func NewToolExecutor(logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		tools:   make(map[string]*registeredTool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tool_executor"),
	}
}

// Register adds a tool with its definition and handler. If a tool with the
// same name already exists, it is overwritten.
func (e *ToolExecutor) Register(def ToolDefinition, handler ToolHandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := def.Function.Name
	e.tools[name] = &registeredTool{Definition: def, Handler: handler}
	e.logger.Debug("tool registered", "name", name)
}

// Tools returns all registered tool definitions for the LLM.
func (e *ToolExecutor) Tools() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(e.tools))
	for _, t := range e.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// HasTool checks if a tool is registered by name.
func (e *ToolExecutor) HasTool(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Execute dispatches a batch of tool calls to their registered handlers,
// sequentially, each with a per-tool timeout. Results come back in input
// order; failures become error-text results, never panics or aborts.
func (e *ToolExecutor) Execute(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.executeSingle(ctx, call)
	}
	return results
}

// executeSingle runs a single tool call and returns the result.
func (e *ToolExecutor) executeSingle(ctx context.Context, call ToolCall) ToolResult {
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}

	e.mu.RLock()
	tool, ok := e.tools[call.Name]
	e.mu.RUnlock()

	if !ok {
		result.Content = fmt.Sprintf("Error: unknown tool %q", call.Name)
		result.Error = fmt.Errorf("unknown tool: %s", call.Name)
		e.logger.Warn("unknown tool called", "name", call.Name)
		return result
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Content = fmt.Sprintf("Error: invalid arguments: %v", err)
			result.Error = fmt.Errorf("parse tool arguments: %w", err)
			return result
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Handler(toolCtx, args)
	if err != nil {
		result.Content = fmt.Sprintf("Error: %v", err)
		result.Error = err
		e.logger.Warn("tool execution failed", "name", call.Name, "err", err)
		return result
	}

	switch v := out.(type) {
	case string:
		result.Content = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			result.Content = fmt.Sprintf("%v", v)
		} else {
			result.Content = string(encoded)
		}
	}

	e.logger.Debug("tool executed",
		"name", call.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

// RegisterBuiltins adds the small set of tools this core ships with.
func (e *ToolExecutor) RegisterBuiltins() {
	e.Register(ToolDefinition{
		Type: "function",
		Function: FunctionDef{
			Name:        "current_time",
			Description: "Returns the current date and time in RFC3339 format.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}, func(_ context.Context, _ map[string]any) (any, error) {
		return time.Now().Format(time.RFC3339), nil
	})
}
