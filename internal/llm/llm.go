// Package llm talks to tool-calling language models. Conversations are
// kept in a provider-neutral block form ([Message], [ContentBlock]);
// each provider converts to its own wire format at the boundary.
package llm

import (
	"context"
	"log/slog"
	"maps"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a ContentBlock.
type BlockType string

// Content block types.
const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one item of message content. Which fields are set
// depends on Type:
//
//   - text: Text
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a message holding a single text block.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use block from a model tool call.
func ToolUseBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Name, Input: call.Input}
}

// ToolResultBlock builds a tool_result block answering the given call ID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: make([]ContentBlock, len(m.Content))}
	for i, c := range m.Content {
		c.Input = maps.Clone(c.Input)
		out.Content[i] = c
	}
	return out
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Request is a single model call. Tool choice is always automatic.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Response is the provider-neutral result of a model call.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Model      string

	InputTokens  int
	OutputTokens int
}

// Client is implemented by every model provider.
type Client interface {
	// Chat performs one non-streaming completion.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Provider returns the provider name, e.g. "anthropic".
	Provider() string
}

// emptySchema is used for tools that declare no parameters.
func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// toolNamesByID maps tool_use IDs to tool names across a conversation,
// for providers whose tool results must repeat the tool name.
func toolNamesByID(msgs []Message) map[string]string {
	names := make(map[string]string)
	for _, m := range msgs {
		for _, c := range m.Content {
			if c.Type == BlockToolUse {
				names[c.ID] = c.Name
			}
		}
	}
	return names
}
