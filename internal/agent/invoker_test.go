package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
)

type runnerFunc func(ctx context.Context, name string, args map[string]any) mcp.ToolCallResult

func (f runnerFunc) Invoke(ctx context.Context, name string, args map[string]any) mcp.ToolCallResult {
	return f(ctx, name, args)
}

func TestInvoker_StampsCallID(t *testing.T) {
	var gotArgs map[string]any
	inv := NewInvoker(runnerFunc(func(_ context.Context, name string, args map[string]any) mcp.ToolCallResult {
		gotArgs = args
		return mcp.ToolCallResult{Payload: []mcp.ToolContent{mcp.Text{Value: "ok"}}}
	}), nil)

	res := inv.Invoke(context.Background(), llm.ToolCall{ID: "toolu_5", Name: "find"})
	if res.CallID != "toolu_5" || res.ToolName != "find" || !res.OK() {
		t.Errorf("result = %+v", res)
	}
	if gotArgs == nil {
		t.Error("nil input should reach the runner as an empty map")
	}
}

func TestInvoker_RecoversPanic(t *testing.T) {
	inv := NewInvoker(runnerFunc(func(context.Context, string, map[string]any) mcp.ToolCallResult {
		panic("boom")
	}), nil)

	res := inv.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "find"})
	if res.OK() {
		t.Fatal("panic should become a failure")
	}
	if res.Failure.Kind != mcp.FailureInternal || !strings.Contains(res.Failure.Message, "boom") {
		t.Errorf("failure = %+v", res.Failure)
	}
	if res.CallID != "c1" {
		t.Errorf("CallID = %q", res.CallID)
	}
}

func TestInvoker_EmptyName(t *testing.T) {
	called := false
	inv := NewInvoker(runnerFunc(func(context.Context, string, map[string]any) mcp.ToolCallResult {
		called = true
		return mcp.ToolCallResult{}
	}), nil)

	res := inv.Invoke(context.Background(), llm.ToolCall{ID: "c2"})
	if res.OK() || called {
		t.Errorf("empty tool name should fail without calling the runner: %+v", res)
	}
}

func TestInvoker_PassesFailureThrough(t *testing.T) {
	inv := NewInvoker(runnerFunc(func(_ context.Context, name string, _ map[string]any) mcp.ToolCallResult {
		return mcp.Fail(name, mcp.FailureTimeout, "deadline exceeded")
	}), nil)

	res := inv.Invoke(context.Background(), llm.ToolCall{ID: "c3", Name: "aggregate"})
	if res.OK() || res.Failure.Kind != mcp.FailureTimeout {
		t.Errorf("result = %+v", res)
	}
}
