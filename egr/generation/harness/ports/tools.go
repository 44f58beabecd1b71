package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is what a retrieval tool hands back to the router: context
// blocks for answer synthesis and the ids of the items they came from.
type ToolResult struct {
	Context  []string
	CitedIDs []string
	Titles   []string // titles of the cited episodes
}

// Empty reports whether the tool found nothing.
func (r ToolResult) Empty() bool { return len(r.Context) == 0 }

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error)
}
