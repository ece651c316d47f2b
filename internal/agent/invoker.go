package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
)

// ToolRunner executes one named tool. *mcp.Channel implements it.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, args map[string]any) mcp.ToolCallResult
}

// Invoker turns model tool calls into channel invocations. It never
// panics and never returns an error: every outcome is an envelope.
type Invoker struct {
	runner ToolRunner
	logger *slog.Logger
}

// NewInvoker wraps runner.
func NewInvoker(runner ToolRunner, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{runner: runner, logger: logger}
}

// Invoke runs call and stamps the result with the call's ID.
func (i *Invoker) Invoke(ctx context.Context, call llm.ToolCall) (res mcp.ToolCallResult) {
	start := time.Now()
	args := call.Input
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			res = mcp.Fail(call.Name, mcp.FailureInternal, fmt.Sprintf("panic during tool call: %v", r))
			i.logger.Error("tool call panicked", "tool", call.Name, "panic", r)
		}
		res.CallID = call.ID
		res.ToolName = call.Name

		attrs := []any{"tool", call.Name, "call_id", call.ID, "elapsed", time.Since(start).Round(time.Millisecond)}
		if res.OK() {
			i.logger.Info("tool call succeeded", attrs...)
		} else {
			i.logger.Warn("tool call failed", append(attrs, "kind", res.Failure.Kind, "error", res.Failure.Message)...)
		}
	}()

	if call.Name == "" {
		return mcp.Fail(call.Name, mcp.FailureInternal, "tool call has no name")
	}
	return i.runner.Invoke(ctx, call.Name, args)
}
