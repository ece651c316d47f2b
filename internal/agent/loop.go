// Package agent runs the conversation loop: it alternates language
// model calls with tool invocations until the model produces a final
// answer or the turn budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/wfm-assistant/internal/history"
	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
	"github.com/nugget/wfm-assistant/internal/usage"
)

// User-facing messages for conditions that are not errors to the caller.
const (
	NotConnectedMessage = "Sorry, I'm not connected to the WFM database right now. Please try again later."
	LLMErrorPrefix      = "Sorry, I encountered an error connecting to the language model: "
)

// LLMTimeoutMessage is the answer when a model call outlives its
// per-call deadline.
func LLMTimeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Sorry, the language model did not respond within %s. Please try again.", limit)
}

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxTurns  = 10
	DefaultMaxTokens = 2000
)

// TruncationNotice is appended to the answer when every turn requested
// tools and the budget ran out.
func TruncationNotice(maxTurns int) string {
	return fmt.Sprintf("\n\n[Note: Reached maximum interaction limit of %d turns. Response may be incomplete.]", maxTurns)
}

// ToolSource is the live tool channel as seen by the loop.
type ToolSource interface {
	ToolRunner
	Ready() bool
	Capabilities() []mcp.Capability
}

// PromptBuilder renders the system prompt for one model call.
type PromptBuilder interface {
	SystemPrompt(now time.Time, toolNames []string) string
}

// PromptFunc adapts a function to PromptBuilder.
type PromptFunc func(now time.Time, toolNames []string) string

// SystemPrompt implements PromptBuilder.
func (f PromptFunc) SystemPrompt(now time.Time, toolNames []string) string {
	return f(now, toolNames)
}

// UsageRecorder persists per-call token usage. *usage.Store implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Deps are the collaborators an Orchestrator needs. Prompt, Usage and
// Logger are optional.
type Deps struct {
	LLM     llm.Client
	Tools   ToolSource
	History *history.Store
	Prompt  PromptBuilder
	Usage   UsageRecorder
	Logger  *slog.Logger
}

// Options tune the loop.
type Options struct {
	Model      string
	MaxTurns   int
	MaxTokens  int
	LLMTimeout time.Duration
}

// ToolCallRecord summarizes one tool invocation for the caller.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Turn      int            `json:"turn"`
}

// Result is the outcome of Process.
type Result struct {
	ConversationID string           `json:"conversation_id"`
	Response       string           `json:"response"`
	Turns          int              `json:"turns"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	Truncated      bool             `json:"truncated"`
	TimedOut       bool             `json:"timed_out"`
}

// Orchestrator processes user messages against the model and tools.
// Requests for the same conversation run one at a time; different
// conversations proceed independently.
type Orchestrator struct {
	llm     llm.Client
	tools   ToolSource
	invoker *Invoker
	history *history.Store
	prompt  PromptBuilder
	usage   UsageRecorder
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an Orchestrator. LLM, Tools and History are required.
func New(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	return &Orchestrator{
		llm:     deps.LLM,
		tools:   deps.Tools,
		invoker: NewInvoker(deps.Tools, logger),
		history: deps.History,
		prompt:  deps.Prompt,
		usage:   deps.Usage,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		locks:   make(map[string]*convLock),
	}
}

// lock serializes work on one conversation and returns the release func.
func (o *Orchestrator) lock(id string) func() {
	o.locksMu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &convLock{}
		o.locks[id] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.locksMu.Unlock()
	}
}

// Process answers userText within the given conversation. The only
// error it returns is a context error, in which case nothing is
// committed to history. Tool failures, model errors and budget
// exhaustion are all reported through Result.Response.
func (o *Orchestrator) Process(ctx context.Context, conversationID, userText string, events EventFunc) (Result, error) {
	if conversationID == "" {
		conversationID = history.DefaultConversation
	}
	unlock := o.lock(conversationID)
	defer unlock()

	log := o.logger.With("conversation_id", conversationID)
	userMsg := llm.TextMessage(llm.RoleUser, userText)
	result := Result{ConversationID: conversationID, ToolCalls: []ToolCallRecord{}}

	if !o.tools.Ready() {
		log.Warn("tool channel not ready, answering without model")
		result.Response = NotConnectedMessage
		o.commit(conversationID, userMsg, result.Response)
		events.emit(Event{Kind: EventFinal, Text: result.Response})
		return result, nil
	}

	working := append(o.history.Snapshot(conversationID), userMsg)
	log.Info("processing message", "history", len(working)-1, "max_turns", o.opts.MaxTurns)

	for turn := 1; turn <= o.opts.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		result.Turns = turn

		caps := o.tools.Capabilities()
		events.emit(Event{Kind: EventLLMStart, Turn: turn})
		resp, err := o.chat(ctx, conversationID, turn, working, caps)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) && o.opts.LLMTimeout > 0 {
				log.Error("model call timed out", "turn", turn, "timeout", o.opts.LLMTimeout)
				result.Response = LLMTimeoutMessage(o.opts.LLMTimeout)
				result.TimedOut = true
				break
			}
			log.Error("model call failed", "turn", turn, "error", err)
			result.Response = LLMErrorPrefix + err.Error()
			break
		}

		if len(resp.ToolCalls) == 0 {
			result.Response = resp.Text
			break
		}

		assistant := llm.Message{Role: llm.RoleAssistant}
		if resp.Text != "" {
			assistant.Content = append(assistant.Content, llm.TextBlock(resp.Text))
		}
		results := llm.Message{Role: llm.RoleUser}

		for _, call := range resp.ToolCalls {
			assistant.Content = append(assistant.Content, llm.ToolUseBlock(call))
			events.emit(Event{Kind: EventToolStart, Turn: turn, Tool: call.Name})

			res := o.invoker.Invoke(ctx, call)
			rec := ToolCallRecord{ID: call.ID, Name: call.Name, Arguments: call.Input, Success: res.OK(), Turn: turn}
			done := Event{Kind: EventToolDone, Turn: turn, Tool: call.Name}
			if res.OK() {
				results.Content = append(results.Content, llm.ToolResultBlock(call.ID, res.Text(), false))
			} else {
				rec.Error = res.Failure.Message
				done.Error = res.Failure.Message
				results.Content = append(results.Content, llm.ToolResultBlock(call.ID, "Error: "+res.Failure.Message, true))
			}
			result.ToolCalls = append(result.ToolCalls, rec)
			events.emit(done)
		}

		working = append(working, assistant, results)

		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if turn == o.opts.MaxTurns {
			log.Warn("turn budget exhausted", "turns", turn)
			result.Response = resp.Text + TruncationNotice(o.opts.MaxTurns)
			result.Truncated = true
		}
	}

	o.commit(conversationID, userMsg, result.Response)
	events.emit(Event{Kind: EventFinal, Turn: result.Turns, Text: result.Response})
	log.Info("message processed",
		"turns", result.Turns,
		"tool_calls", len(result.ToolCalls),
		"truncated", result.Truncated,
		"timed_out", result.TimedOut,
	)
	return result, nil
}

// chat performs one model call under the configured deadline and
// records its usage.
func (o *Orchestrator) chat(ctx context.Context, conversationID string, turn int, working []llm.Message, caps []mcp.Capability) (*llm.Response, error) {
	names := make([]string, len(caps))
	defs := make([]llm.ToolDefinition, len(caps))
	for i, c := range caps {
		names[i] = c.Name
		defs[i] = llm.ToolDefinition{Name: c.Name, Description: c.Description, Parameters: c.Schema}
	}

	req := &llm.Request{
		Model:     o.opts.Model,
		Messages:  working,
		Tools:     defs,
		MaxTokens: o.opts.MaxTokens,
	}
	if o.prompt != nil {
		req.System = o.prompt.SystemPrompt(o.now(), names)
	}

	callCtx := ctx
	if o.opts.LLMTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.LLMTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.llm.Chat(callCtx, req)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("model call complete",
		"conversation_id", conversationID,
		"turn", turn,
		"model", resp.Model,
		"tool_calls", len(resp.ToolCalls),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if o.usage != nil {
		model := resp.Model
		if model == "" {
			model = o.opts.Model
		}
		err := o.usage.Record(ctx, usage.Record{
			ConversationID: conversationID,
			Model:          model,
			Provider:       o.llm.Provider(),
			InputTokens:    resp.InputTokens,
			OutputTokens:   resp.OutputTokens,
			Turn:           turn,
		})
		if err != nil {
			o.logger.Warn("failed to record usage", "error", err)
		}
	}
	return resp, nil
}

func (o *Orchestrator) commit(conversationID string, user llm.Message, answer string) {
	o.history.AppendExchange(conversationID, user, llm.TextMessage(llm.RoleAssistant, answer))
}

// History returns a copy of a conversation's committed messages.
func (o *Orchestrator) History(conversationID string) []llm.Message {
	return o.history.Snapshot(conversationID)
}

// Reset forgets a conversation.
func (o *Orchestrator) Reset(conversationID string) {
	o.history.Clear(conversationID)
}

// ToolsReady reports whether the tool channel can take calls.
func (o *Orchestrator) ToolsReady() bool {
	return o.tools.Ready()
}
