package tools

import (
	"context"
	"encoding/json"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// StructuredRetrievalName is the tool name offered to the router.
const StructuredRetrievalName = "structured_retrieval"

// StructuredRetrievalTool answers relational questions through the
// structured retrieval chain.
type StructuredRetrievalTool struct {
	chain Retriever
}

// NewStructuredRetrievalTool creates a new structured retrieval tool.
func NewStructuredRetrievalTool(chain Retriever) *StructuredRetrievalTool {
	return &StructuredRetrievalTool{chain: chain}
}

// Name returns the tool name.
func (t *StructuredRetrievalTool) Name() string { return StructuredRetrievalName }

// Description tells the model when to pick this tool.
func (t *StructuredRetrievalTool) Description() string {
	return "For facts about episodes: titles, dates, numbers, URLs, topics, guests and hosts, " +
		"linked resources, counts and the latest or oldest episodes."
}

// Source is the provenance tag persisted with answers from this tool.
func (t *StructuredRetrievalTool) Source() string { return egr.SourceStructured }

// Schema returns the JSON schema for tool parameters.
func (t *StructuredRetrievalTool) Schema() []byte { return []byte(QuestionSchema) }

// Invoke runs the chain. Chain errors are returned unchanged.
func (t *StructuredRetrievalTool) Invoke(ctx context.Context, args json.RawMessage) (ports.ToolResult, error) {
	q, err := parseQuestion(args)
	if err != nil {
		return ports.ToolResult{}, err
	}
	res, err := t.chain.Retrieve(ctx, q)
	if err != nil {
		return ports.ToolResult{}, err
	}
	return toolResult(res), nil
}

var _ ports.Tool = (*StructuredRetrievalTool)(nil)
