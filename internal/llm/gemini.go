package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nugget/wfm-assistant/internal/httpkit"
)

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a client. An empty baseURL selects the public API.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiClient{client: gc, logger: logger.With("provider", "gemini")}, nil
}

// Provider implements Client.
func (c *GeminiClient) Provider() string { return "gemini" }

// Chat sends one GenerateContent request.
func (c *GeminiClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	contents := convertToGemini(req.Messages)
	config := &genai.GenerateContentConfig{
		Tools: convertToolsToGemini(req.Tools),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"contents", len(contents),
		"tools", len(req.Tools),
	)

	gr, err := c.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	resp, err := convertFromGemini(gr, req.Model)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.ToolCalls),
		"stop_reason", resp.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Text)
	return resp, nil
}

// convertToGemini maps messages onto genai contents. Tool results must
// carry the function name, which is recovered from the matching tool_use.
func convertToGemini(messages []Message) []*genai.Content {
	names := toolNamesByID(messages)
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		var parts []*genai.Part
		for _, b := range msg.Content {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					parts = append(parts, &genai.Part{Text: b.Text})
				}
			case BlockToolUse:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: b.Input,
				}})
			case BlockToolResult:
				response := map[string]any{"output": b.Content}
				if b.IsError {
					response = map[string]any{"error": b.Content}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     names[b.ToolUseID],
					Response: response,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func convertToolsToGemini(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = emptySchema()
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertFromGemini reads the first candidate. Gemini may omit call IDs,
// so missing ones are synthesized to keep tool results correlated.
func convertFromGemini(gr *genai.GenerateContentResponse, model string) (*Response, error) {
	if gr == nil || len(gr.Candidates) == 0 || gr.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: response has no candidates")
	}
	cand := gr.Candidates[0]
	resp := &Response{
		StopReason: string(cand.FinishReason),
		Model:      model,
	}
	if gr.ModelVersion != "" {
		resp.Model = gr.ModelVersion
	}
	if u := gr.UsageMetadata; u != nil {
		resp.InputTokens = int(u.PromptTokenCount)
		resp.OutputTokens = int(u.CandidatesTokenCount)
	}

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		switch {
		case p.Thought:
			continue
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: p.FunctionCall.Name, Input: args})
		case p.Text != "":
			text.WriteString(p.Text)
		}
	}
	resp.Text = text.String()
	return resp, nil
}
