package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/wfm-assistant/internal/history"
	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
	"github.com/nugget/wfm-assistant/internal/usage"
)

// scriptedLLM replays responses in order. Once the script is exhausted
// the last response repeats.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	requests  []*llm.Request
	hook      func(turn int)
}

func (s *scriptedLLM) Chat(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	cp.Messages = make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		cp.Messages[i] = m.Clone()
	}
	s.requests = append(s.requests, &cp)
	if s.hook != nil {
		s.hook(len(s.requests))
	}
	if s.err != nil {
		return nil, s.err
	}
	idx := min(len(s.requests)-1, len(s.responses)-1)
	return s.responses[idx], nil
}

func (s *scriptedLLM) Provider() string { return "scripted" }

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fakeTools is an always-ready tool source that echoes call names.
type fakeTools struct {
	mu      sync.Mutex
	ready   bool
	caps    []mcp.Capability
	results map[string]mcp.ToolCallResult
	invoked []string
	onCall  func()
}

func newFakeTools(names ...string) *fakeTools {
	f := &fakeTools{ready: true, results: map[string]mcp.ToolCallResult{}}
	for _, n := range names {
		f.caps = append(f.caps, mcp.Capability{Name: n, Description: n + " tool"})
	}
	return f
}

func (f *fakeTools) Ready() bool                    { return f.ready }
func (f *fakeTools) Capabilities() []mcp.Capability { return f.caps }

func (f *fakeTools) Invoke(_ context.Context, name string, _ map[string]any) mcp.ToolCallResult {
	f.mu.Lock()
	f.invoked = append(f.invoked, name)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if r, ok := f.results[name]; ok {
		return r
	}
	return mcp.ToolCallResult{ToolName: name, Payload: []mcp.ToolContent{mcp.Text{Value: name + " result"}}}
}

func toolTurn(text string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{Text: text, ToolCalls: calls, Model: "test-model", InputTokens: 10, OutputTokens: 5}
}

func finalTurn(text string) *llm.Response {
	return &llm.Response{Text: text, Model: "test-model", InputTokens: 10, OutputTokens: 5}
}

func call(id, name string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Input: map[string]any{"collection": "employees"}}
}

func buildTestOrchestrator(model llm.Client, tools ToolSource, opts Options) (*Orchestrator, *history.Store) {
	store := history.NewStore(20, 0)
	o := New(Deps{LLM: model, Tools: tools, History: store}, opts)
	return o, store
}

func TestProcess_DirectAnswer(t *testing.T) {
	const answer = "There are 1,204 employees.\n\n| type | n |"
	model := &scriptedLLM{responses: []*llm.Response{finalTurn(answer)}}
	o, store := buildTestOrchestrator(model, newFakeTools("find"), Options{})

	res, err := o.Process(context.Background(), "c1", "how many employees?", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Response != answer {
		t.Errorf("Response = %q, want unchanged model text", res.Response)
	}
	if res.Turns != 1 || res.Truncated || len(res.ToolCalls) != 0 {
		t.Errorf("result = %+v", res)
	}

	msgs := store.Snapshot("c1")
	if len(msgs) != 2 {
		t.Fatalf("history has %d entries, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Text() != "how many employees?" {
		t.Errorf("user entry = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Text() != answer {
		t.Errorf("assistant entry = %+v", msgs[1])
	}
}

func TestProcess_ToolCallsCorrelate(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("Checking.", call("t1", "find"), call("t2", "count")),
		toolTurn("", call("t3", "aggregate")),
		finalTurn("done"),
	}}
	tools := newFakeTools("find", "count", "aggregate")
	o, store := buildTestOrchestrator(model, tools, Options{})

	res, err := o.Process(context.Background(), "", "report", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Response != "done" || res.Turns != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(tools.invoked) != 3 {
		t.Fatalf("invoked %d tools, want 3", len(tools.invoked))
	}
	if res.ConversationID != history.DefaultConversation {
		t.Errorf("ConversationID = %q", res.ConversationID)
	}

	// Every tool_use in the transcript is answered by exactly one
	// tool_result with the same ID in the following message.
	last := model.requests[len(model.requests)-1].Messages
	for i, m := range last {
		if m.Role != llm.RoleAssistant {
			continue
		}
		var uses []string
		for _, b := range m.Content {
			if b.Type == llm.BlockToolUse {
				uses = append(uses, b.ID)
			}
		}
		if len(uses) == 0 {
			continue
		}
		next := last[i+1]
		if len(next.Content) != len(uses) {
			t.Fatalf("message %d: %d uses, %d results", i, len(uses), len(next.Content))
		}
		for j, b := range next.Content {
			if b.Type != llm.BlockToolResult || b.ToolUseID != uses[j] {
				t.Errorf("result %d = %+v, want tool_result for %s", j, b, uses[j])
			}
		}
	}

	// Only the exchange is committed, not the working transcript.
	if n := len(store.Snapshot(history.DefaultConversation)); n != 2 {
		t.Errorf("history has %d entries, want 2", n)
	}
}

func TestProcess_TurnBudget(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{toolTurn("still looking", call("x", "find"))}}
	o, store := buildTestOrchestrator(model, newFakeTools("find"), Options{MaxTurns: 3})

	res, err := o.Process(context.Background(), "c", "loop forever", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := model.calls(); got != 3 {
		t.Errorf("model called %d times, want exactly 3", got)
	}
	want := "still looking" + TruncationNotice(3)
	if res.Response != want {
		t.Errorf("Response = %q, want %q", res.Response, want)
	}
	if !res.Truncated || res.Turns != 3 || len(res.ToolCalls) != 3 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(store.Snapshot("c")[1].Text(), "maximum interaction limit of 3 turns") {
		t.Error("truncated answer should be committed with the notice")
	}
}

func TestProcess_HistoryCap(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{finalTurn("ok")}}
	o, store := buildTestOrchestrator(model, newFakeTools(), Options{})

	for n := 1; n <= 15; n++ {
		if _, err := o.Process(context.Background(), "c", fmt.Sprintf("q%d", n), nil); err != nil {
			t.Fatal(err)
		}
		msgs := store.Snapshot("c")
		if len(msgs) != min(2*n, 20) {
			t.Fatalf("after %d calls history = %d, want %d", n, len(msgs), min(2*n, 20))
		}
		if msgs[len(msgs)-2].Text() != fmt.Sprintf("q%d", n) {
			t.Fatalf("most recent user entry = %q", msgs[len(msgs)-2].Text())
		}
	}
	if first := store.Snapshot("c")[0].Text(); first != "q6" {
		t.Errorf("oldest retained = %q, want q6", first)
	}
}

func TestProcess_FindBadgeScenario(t *testing.T) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-mongodb", Version: "test"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "find",
		Description: "Run a find query",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `[{"firstName":"Jane"}]`}}}, nil
	})
	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ss, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return
		}
		<-ctx.Done()
		_ = ss.Close()
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ch := mcp.New(mcp.ChannelConfig{
		Dialer:      func(context.Context) (mcpsdk.Transport, error) { return clientTransport, nil },
		CallTimeout: 5 * time.Second,
	}, nil)
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer ch.Shutdown()

	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("", llm.ToolCall{ID: "toolu_1", Name: "find", Input: map[string]any{"badgeId": "123"}}),
		finalTurn("Found Jane"),
	}}
	o, _ := buildTestOrchestrator(model, ch, Options{})

	res, err := o.Process(context.Background(), "s", "find badge 123", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Response != "Found Jane" {
		t.Errorf("Response = %q, want Found Jane", res.Response)
	}
	if len(model.requests[0].Tools) != 1 || model.requests[0].Tools[0].Name != "find" {
		t.Errorf("tools offered = %+v", model.requests[0].Tools)
	}
	second := model.requests[1].Messages
	result := second[len(second)-1].Content[0]
	if result.ToolUseID != "toolu_1" || result.Content != `[{"firstName":"Jane"}]` || result.IsError {
		t.Errorf("tool result given to model = %+v", result)
	}
}

func TestProcess_ChannelInitFailure(t *testing.T) {
	ch := mcp.New(mcp.ChannelConfig{
		Dialer: func(context.Context) (mcpsdk.Transport, error) {
			return nil, errors.New("spawn failed")
		},
	}, nil)
	if err := ch.Initialize(context.Background()); err == nil {
		t.Fatal("expected Initialize to fail")
	}

	model := &scriptedLLM{responses: []*llm.Response{finalTurn("unreachable")}}
	o, store := buildTestOrchestrator(model, ch, Options{})

	for i := range 3 {
		res, err := o.Process(context.Background(), "c", fmt.Sprintf("question %d", i), nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Response != NotConnectedMessage || res.Turns != 0 {
			t.Errorf("result = %+v", res)
		}
	}
	if model.calls() != 0 {
		t.Errorf("model called %d times while disconnected", model.calls())
	}
	msgs := store.Snapshot("c")
	if len(msgs) != 6 {
		t.Fatalf("history = %d entries, want 6", len(msgs))
	}
	if msgs[4].Text() != "question 2" || msgs[5].Text() != NotConnectedMessage {
		t.Errorf("last exchange = %q / %q", msgs[4].Text(), msgs[5].Text())
	}
}

func TestProcess_LLMError(t *testing.T) {
	model := &scriptedLLM{err: errors.New("503 overloaded")}
	o, store := buildTestOrchestrator(model, newFakeTools("find"), Options{})

	res, err := o.Process(context.Background(), "c", "hello", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Response != LLMErrorPrefix+"503 overloaded" {
		t.Errorf("Response = %q", res.Response)
	}
	if msgs := store.Snapshot("c"); len(msgs) != 2 || msgs[1].Text() != res.Response {
		t.Errorf("error answer should be committed, history = %+v", msgs)
	}
}

// blockingLLM never answers; it returns when its context ends.
type blockingLLM struct{}

func (blockingLLM) Chat(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingLLM) Provider() string { return "blocking" }

func TestProcess_LLMTimeout(t *testing.T) {
	const limit = 50 * time.Millisecond
	o, store := buildTestOrchestrator(blockingLLM{}, newFakeTools("find"), Options{LLMTimeout: limit})

	start := time.Now()
	res, err := o.Process(context.Background(), "c", "hello", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Process took %s, deadline not applied", elapsed)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if res.Response != LLMTimeoutMessage(limit) {
		t.Errorf("Response = %q", res.Response)
	}
	if strings.HasPrefix(res.Response, LLMErrorPrefix) {
		t.Error("timeout reported as a generic model error")
	}
	if res.Turns != 1 {
		t.Errorf("Turns = %d, want 1", res.Turns)
	}
	if msgs := store.Snapshot("c"); len(msgs) != 2 || msgs[1].Text() != res.Response {
		t.Errorf("timeout answer should be committed, history = %+v", msgs)
	}
}

func TestProcess_LLMErrorIsNotTimeout(t *testing.T) {
	model := &scriptedLLM{err: errors.New("401 unauthorized")}
	o, _ := buildTestOrchestrator(model, newFakeTools("find"), Options{LLMTimeout: time.Minute})

	res, err := o.Process(context.Background(), "c", "hello", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.TimedOut {
		t.Error("TimedOut = true for a non-deadline error")
	}
	if res.Response != LLMErrorPrefix+"401 unauthorized" {
		t.Errorf("Response = %q", res.Response)
	}
}

func TestProcess_ToolFailureContinues(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("", call("t1", "aggregate")),
		finalTurn("the pipeline was invalid"),
	}}
	tools := newFakeTools("aggregate")
	tools.results["aggregate"] = mcp.Fail("aggregate", mcp.FailureRemote, "stage $bogus is invalid")
	o, _ := buildTestOrchestrator(model, tools, Options{})

	res, err := o.Process(context.Background(), "c", "aggregate", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "the pipeline was invalid" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Success || res.ToolCalls[0].Error == "" {
		t.Errorf("ToolCalls = %+v", res.ToolCalls)
	}
	msgs := model.requests[1].Messages
	block := msgs[len(msgs)-1].Content[0]
	if !block.IsError || block.Content != "Error: stage $bogus is invalid" {
		t.Errorf("tool result block = %+v", block)
	}
}

func TestProcess_CancelledCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("", call("t1", "find")),
		finalTurn("never"),
	}}
	tools := newFakeTools("find")
	tools.onCall = cancel
	o, store := buildTestOrchestrator(model, tools, Options{})

	_, err := o.Process(ctx, "c", "find", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if model.calls() != 1 {
		t.Errorf("model called %d times, want 1", model.calls())
	}
	if n := len(store.Snapshot("c")); n != 0 {
		t.Errorf("history = %d entries, want 0", n)
	}
}

func TestProcess_Events(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("", call("t1", "find")),
		finalTurn("answer"),
	}}
	o, _ := buildTestOrchestrator(model, newFakeTools("find"), Options{})

	var kinds []EventKind
	var final Event
	_, err := o.Process(context.Background(), "c", "q", func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventFinal {
			final = e
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []EventKind{EventLLMStart, EventToolStart, EventToolDone, EventLLMStart, EventFinal}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if final.Text != "answer" || final.Turn != 2 {
		t.Errorf("final event = %+v", final)
	}
}

type recordingUsage struct {
	mu   sync.Mutex
	recs []usage.Record
}

func (r *recordingUsage) Record(_ context.Context, rec usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestProcess_PromptAndUsage(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		toolTurn("", call("t1", "find")),
		finalTurn("ok"),
	}}
	rec := &recordingUsage{}
	var gotNames []string
	o := New(Deps{
		LLM:     model,
		Tools:   newFakeTools("find", "count"),
		History: history.NewStore(20, 0),
		Prompt: PromptFunc(func(now time.Time, names []string) string {
			gotNames = names
			return "prompt at " + now.Format("2006-01-02")
		}),
		Usage: rec,
	}, Options{Model: "claude-test"})
	o.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	if _, err := o.Process(context.Background(), "conv", "q", nil); err != nil {
		t.Fatal(err)
	}
	if model.requests[0].System != "prompt at 2026-03-01" {
		t.Errorf("System = %q", model.requests[0].System)
	}
	if fmt.Sprint(gotNames) != "[find count]" {
		t.Errorf("tool names = %v", gotNames)
	}
	if model.requests[0].Model != "claude-test" || model.requests[0].MaxTokens != DefaultMaxTokens {
		t.Errorf("request model=%q max_tokens=%d", model.requests[0].Model, model.requests[0].MaxTokens)
	}
	if len(rec.recs) != 2 {
		t.Fatalf("recorded %d usage rows, want 2", len(rec.recs))
	}
	if rec.recs[1].Turn != 2 || rec.recs[1].ConversationID != "conv" || rec.recs[1].Provider != "scripted" {
		t.Errorf("usage row = %+v", rec.recs[1])
	}
}

func TestProcess_SameConversationSerialized(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{finalTurn("ok")}}
	o, store := buildTestOrchestrator(model, newFakeTools(), Options{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Process(context.Background(), "shared", fmt.Sprint(i), nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	msgs := store.Snapshot("shared")
	if len(msgs) != 16 {
		t.Fatalf("history = %d entries, want 16", len(msgs))
	}
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != llm.RoleUser || msgs[i+1].Role != llm.RoleAssistant {
			t.Fatalf("entries %d,%d interleaved: %s/%s", i, i+1, msgs[i].Role, msgs[i+1].Role)
		}
	}
	if len(o.locks) != 0 {
		t.Errorf("%d conversation locks leaked", len(o.locks))
	}
}

func TestHistoryAndReset(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{finalTurn("ok")}}
	o, _ := buildTestOrchestrator(model, newFakeTools(), Options{})

	if _, err := o.Process(context.Background(), "c", "hi", nil); err != nil {
		t.Fatal(err)
	}
	if n := len(o.History("c")); n != 2 {
		t.Errorf("History = %d entries, want 2", n)
	}
	o.Reset("c")
	if n := len(o.History("c")); n != 0 {
		t.Errorf("History after Reset = %d entries", n)
	}
}
