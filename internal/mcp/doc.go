// Package mcp owns the channel to the MongoDB MCP server: a long-lived
// stdio subprocess spoken to with the official MCP Go SDK.
//
// A [Channel] spawns the server, performs the protocol handshake, loads
// the server's tools into a [Registry] and forwards tool calls. Results
// come back as a [ToolCallResult] whose payload is decoded into the
// [ToolContent] variants [Text] and [Structured], so callers never
// inspect raw protocol content. Failures are returned as data, never as
// panics or errors, so a broken channel degrades to "not ready" results.
package mcp
