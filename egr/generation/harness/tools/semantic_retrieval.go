package tools

import (
	"context"
	"encoding/json"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// SemanticRetrievalName is the tool name offered to the router.
const SemanticRetrievalName = "semantic_retrieval"

// SemanticRetrievalTool answers qualitative questions through semantic
// search over episode transcripts.
type SemanticRetrievalTool struct {
	chain Retriever
}

// NewSemanticRetrievalTool creates a new semantic retrieval tool.
func NewSemanticRetrievalTool(chain Retriever) *SemanticRetrievalTool {
	return &SemanticRetrievalTool{chain: chain}
}

// Name returns the tool name.
func (t *SemanticRetrievalTool) Name() string { return SemanticRetrievalName }

// Description tells the model when to pick this tool.
func (t *SemanticRetrievalTool) Description() string {
	return "For qualitative questions about what was discussed in an episode, " +
		"what an episode is about, or which episode to watch to learn something."
}

// Source is the provenance tag persisted with answers from this tool.
func (t *SemanticRetrievalTool) Source() string { return egr.SourceSemantic }

// Schema returns the JSON schema for tool parameters.
func (t *SemanticRetrievalTool) Schema() []byte { return []byte(QuestionSchema) }

// Invoke runs the chain. Chain errors are returned unchanged.
func (t *SemanticRetrievalTool) Invoke(ctx context.Context, args json.RawMessage) (ports.ToolResult, error) {
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

var _ ports.Tool = (*SemanticRetrievalTool)(nil)
