package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/chains"
	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// QuestionSchema is the argument schema shared by both retrieval tools.
const QuestionSchema = `{
  "type": "object",
  "properties": {
    "question": {
      "type": "string",
      "description": "The standalone question to answer",
      "minLength": 1
    }
  },
  "required": ["question"]
}`

// Retriever is a retrieval chain.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (*chains.Result, error)
}

type questionArgs struct {
	Question string `json:"question"`
}

func parseQuestion(args json.RawMessage) (string, error) {
	var params questionArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	q := strings.TrimSpace(params.Question)
	if q == "" {
		return "", fmt.Errorf("question is required")
	}
	return q, nil
}

func toolResult(res *chains.Result) ports.ToolResult {
	if res == nil {
		return ports.ToolResult{CitedIDs: []string{}}
	}
	return ports.ToolResult{Context: res.Context, CitedIDs: res.CitedIDs, Titles: res.Titles}
}
