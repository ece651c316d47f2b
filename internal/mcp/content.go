package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolContent is one decoded item of a tool result: either [Text] or
// [Structured].
type ToolContent interface {
	// String renders the item for presentation to the model.
	String() string
	isToolContent()
}

// Text is a plain text payload, the common case for mongodb-mcp-server.
type Text struct {
	Value string
}

func (t Text) String() string { return t.Value }
func (Text) isToolContent()    {}

// Structured is a keyed payload: structured tool output, or metadata
// describing binary and resource content.
type Structured struct {
	Fields map[string]any
}

// String renders the fields as indented JSON.
func (s Structured) String() string {
	data, err := json.MarshalIndent(s.Fields, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", s.Fields)
	}
	return string(data)
}

func (Structured) isToolContent() {}

// Flatten joins the rendered payload items with newlines.
func Flatten(items []ToolContent) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.String())
	}
	return strings.Join(parts, "\n")
}

// decodeResult converts an SDK tool result into the ToolContent variants.
// StructuredContent is used only when the server sent no content blocks,
// since servers that send both mirror the same data in text.
func decodeResult(res *mcpsdk.CallToolResult) []ToolContent {
	if res == nil {
		return nil
	}
	out := make([]ToolContent, 0, len(res.Content))
	for _, c := range res.Content {
		out = append(out, decodeContent(c))
	}
	if len(out) == 0 && res.StructuredContent != nil {
		out = append(out, Structured{Fields: toFields(res.StructuredContent)})
	}
	return out
}

func decodeContent(c mcpsdk.Content) ToolContent {
	switch v := c.(type) {
	case *mcpsdk.TextContent:
		return Text{Value: v.Text}
	case *mcpsdk.ImageContent:
		return Structured{Fields: map[string]any{
			"type":      "image",
			"mime_type": v.MIMEType,
			"bytes":     len(v.Data),
		}}
	case *mcpsdk.AudioContent:
		return Structured{Fields: map[string]any{
			"type":      "audio",
			"mime_type": v.MIMEType,
			"bytes":     len(v.Data),
		}}
	case *mcpsdk.ResourceLink:
		return Structured{Fields: map[string]any{
			"type": "resource_link",
			"uri":  v.URI,
			"name": v.Name,
		}}
	case *mcpsdk.EmbeddedResource:
		fields := map[string]any{"type": "resource"}
		if r := v.Resource; r != nil {
			fields["uri"] = r.URI
			fields["mime_type"] = r.MIMEType
			if r.Text != "" {
				fields["text"] = r.Text
			}
		}
		return Structured{Fields: fields}
	default:
		return Structured{Fields: map[string]any{"type": fmt.Sprintf("%T", c)}}
	}
}

// toFields normalizes an arbitrary JSON-shaped value into a map. Values
// that are not objects are kept under "value".
func toFields(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(v)
	if err == nil {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil && m != nil {
			return m
		}
	}
	return map[string]any{"value": v}
}
